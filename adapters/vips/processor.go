// Package vips is a libvips-backed image Processor.  It covers the same
// capabilities as adapters/raster and adds WebP output; register it with
// Manager.Replace to take over the still-image types.
package vips

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"slices"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/utils"
)

var supported = []mime.Type{mime.JPEG, mime.PNG, mime.WebP, mime.TIFF, mime.GIF}

var (
	startOnce sync.Once
	stopOnce  sync.Once
)

// Processor reads and transforms images through libvips.  Safe for
// concurrent use across goroutines.
type Processor struct {
	cfg     config.VipsConfig
	formats config.FormatOptions
}

// New initialises libvips (once per process) and returns a ready Processor.
// Call Shutdown when the process exits.
func New(cfg config.VipsConfig, formats config.FormatOptions) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if formats == nil {
		formats = config.DefaultFormats()
	}
	startOnce.Do(func() {
		govips.LoggingSettings(nil, govips.LogLevelWarning)
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.Concurrency,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
			CollectStats:     cfg.ReportLeaks,
		})
	})
	return &Processor{cfg: cfg, formats: formats}
}

// Shutdown releases all libvips resources.  Call once at process exit.
func (p *Processor) Shutdown() {
	stopOnce.Do(govips.Shutdown)
}

func (p *Processor) MimeTypes() []mime.Type { return slices.Clone(supported) }

// ─── Read / Write ─────────────────────────────────────────────────────────────

func (p *Processor) Read(ctx context.Context, r io.Reader) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.read", err)
	}

	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.read.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "vips.read", err)
	}
	defer ref.Close()

	mt := mimeOf(ref.Format())
	if mt == mime.Unknown {
		return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "vips.read", "%w: vips type %v", apperrors.ErrUnsupportedFormat, ref.Format())
	}
	md := core.Metadata{
		core.KeyMimeType:   string(mt),
		core.KeyWidth:      ref.Width(),
		core.KeyHeight:     ref.Height(),
		core.KeyColorSpace: colorSpace(ref.Interpretation(), ref.HasAlpha()),
	}
	if n := ref.Pages(); n > 1 || mt == mime.GIF {
		md[core.KeyFrameCount] = n
	}
	return core.NewAsset(raw, md), nil
}

func (p *Processor) Write(ctx context.Context, a *core.Asset, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, "vips.write", err)
	}
	if !slices.Contains(supported, a.MimeType()) {
		return apperrors.Newf(apperrors.CategoryUnsupportedFormat, "vips.write", "%w: %s", apperrors.ErrUnsupportedFormat, a.MimeType())
	}
	_, err := io.Copy(w, a.Essence())
	return apperrors.Wrap(apperrors.CategoryInput, "vips.write", err)
}

// ─── Operators ────────────────────────────────────────────────────────────────

// refFunc mutates a loaded image in place.  It may return metadata to merge
// into the result.
type refFunc func(a *core.Asset, ref *govips.ImageRef) (core.Metadata, error)

// operator loads the essence into libvips, runs fn and exports as target
// (or the input type when target is empty).
func (p *Processor) operator(name string, params map[string]any, target mime.Type, fn refFunc) *core.Operator {
	return core.NewOperator(name, params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		src := a.MimeType()
		if !slices.Contains(supported, src) {
			return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, name, "%w: %s", apperrors.ErrUnsupportedFormat, src)
		}
		out := target
		if out == mime.Unknown {
			out = src
		}

		ref, err := govips.NewImageFromBuffer(a.Bytes())
		if err != nil {
			return nil, err
		}
		defer ref.Close()

		extra, err := fn(a, ref)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		encoded, err := p.export(ref, out)
		if err != nil {
			return nil, err
		}

		md := a.Metadata().Merge(extra)
		md[core.KeyMimeType] = string(out)
		md[core.KeyWidth] = ref.Width()
		md[core.KeyHeight] = ref.Height()
		return core.NewAsset(encoded, md), nil
	})
}

// Resize uses vips_resize() with a Lanczos3 kernel.
func (p *Processor) Resize(width, height int, mode core.ResizeMode) (*core.Operator, error) {
	if err := core.ValidateDimensions("vips.resize", width, height); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, core.ConfigError("vips.resize", "unknown resize mode %v", mode)
	}
	params := map[string]any{"width": width, "height": height, "mode": mode.String()}
	return p.operator("resize", params, mime.Unknown, func(_ *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		srcW, srcH := ref.Width(), ref.Height()
		w, h := mode.Dimensions(srcW, srcH, width, height)
		if w == srcW && h == srcH {
			return nil, nil
		}
		hscale := float64(w) / float64(srcW)
		vscale := float64(h) / float64(srcH)
		return nil, ref.ResizeWithVScale(hscale, vscale, govips.KernelLanczos3)
	}), nil
}

func (p *Processor) Convert(target mime.Type, _ core.ConvertOptions) (*core.Operator, error) {
	if err := core.ValidateTarget("vips.convert", target, supported); err != nil {
		return nil, err
	}
	return p.operator("convert", map[string]any{"mime_type": string(target)}, target, func(*core.Asset, *govips.ImageRef) (core.Metadata, error) {
		return nil, nil
	}), nil
}

// Sharpen runs vips_sharpen() with amount as the mask's Gaussian sigma.
func (p *Processor) Sharpen(amount float64) (*core.Operator, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, core.ConfigError("vips.sharpen", "amount must be a positive number, got %v", amount)
	}
	return p.operator("sharpen", map[string]any{"amount": amount}, mime.Unknown, func(_ *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		return nil, ref.Sharpen(amount, 2, 10)
	}), nil
}

func (p *Processor) Transpose() (*core.Operator, error) {
	return p.operator("transpose", nil, mime.Unknown, func(_ *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		return nil, applyOrientation(ref, 5)
	}), nil
}

func (p *Processor) Flip(orientation core.FlipOrientation) (*core.Operator, error) {
	if !orientation.Valid() {
		return nil, core.ConfigError("vips.flip", "unknown orientation %v", orientation)
	}
	dir := govips.DirectionHorizontal
	if orientation == core.FlipVertical {
		dir = govips.DirectionVertical
	}
	return p.operator("flip", map[string]any{"orientation": orientation.String()}, mime.Unknown, func(_ *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		return nil, ref.Flip(dir)
	}), nil
}

// AutoOrient follows exif.orientation from the asset metadata rather than
// the embedded block, so edits made to the metadata are honoured.
func (p *Processor) AutoOrient() (*core.Operator, error) {
	return p.operator("auto_orient", nil, mime.Unknown, func(a *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		o, ok := a.Metadata().Int(exifOrientation)
		if !ok {
			return nil, nil
		}
		if err := applyOrientation(ref, o); err != nil {
			return nil, err
		}
		return core.Metadata{exifOrientation: int64(1)}, nil
	}), nil
}

const exifOrientation = core.NamespaceExif + ".orientation"

func (p *Processor) Crop(x, y, width, height int) (*core.Operator, error) {
	if err := core.ValidateDimensions("vips.crop", width, height); err != nil {
		return nil, err
	}
	if x < 0 || y < 0 {
		return nil, core.ConfigError("vips.crop", "negative origin (%d, %d)", x, y)
	}
	params := map[string]any{"x": x, "y": y, "width": width, "height": height}
	return p.operator("crop", params, mime.Unknown, func(_ *core.Asset, ref *govips.ImageRef) (core.Metadata, error) {
		if x+width > ref.Width() || y+height > ref.Height() {
			return nil, fmt.Errorf("crop %dx%d+%d+%d exceeds image %dx%d", width, height, x, y, ref.Width(), ref.Height())
		}
		return nil, ref.ExtractArea(x, y, width, height)
	}), nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// applyOrientation undoes Exif orientation o with vips rotations (clockwise)
// and flips.
func applyOrientation(ref *govips.ImageRef, o int64) error {
	switch o {
	case 1:
		return nil
	case 2:
		return ref.Flip(govips.DirectionHorizontal)
	case 3:
		return ref.Rotate(govips.Angle180)
	case 4:
		return ref.Flip(govips.DirectionVertical)
	case 5:
		if err := ref.Rotate(govips.Angle90); err != nil {
			return err
		}
		return ref.Flip(govips.DirectionHorizontal)
	case 6:
		return ref.Rotate(govips.Angle90)
	case 7:
		if err := ref.Rotate(govips.Angle270); err != nil {
			return err
		}
		return ref.Flip(govips.DirectionHorizontal)
	case 8:
		return ref.Rotate(govips.Angle270)
	}
	return fmt.Errorf("unable to correct image orientation %d", o)
}

func (p *Processor) export(ref *govips.ImageRef, mt mime.Type) ([]byte, error) {
	key := string(mt)
	var (
		buf []byte
		err error
	)
	switch mt {
	case mime.JPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = p.formats.Int(key, "quality", 80)
		ep.Interlace = p.formats.Bool(key, "progressive", false)
		buf, _, err = ref.ExportJpeg(ep)
	case mime.PNG:
		ep := govips.NewPngExportParams()
		if p.formats.Bool(key, "zopfli", false) {
			ep.Compression = 9
		}
		buf, _, err = ref.ExportPng(ep)
	case mime.WebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = p.formats.Int(key, "quality", 80)
		ep.Lossless = p.formats.Bool(key, "lossless", false)
		buf, _, err = ref.ExportWebp(ep)
	case mime.TIFF:
		buf, _, err = ref.ExportTiff(govips.NewTiffExportParams())
	case mime.GIF:
		buf, _, err = ref.ExportGIF(govips.NewGifExportParams())
	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mt)
	}
	if err != nil {
		return nil, fmt.Errorf("vips export %s: %w", mt, err)
	}
	return buf, nil
}

func mimeOf(t govips.ImageType) mime.Type {
	switch t {
	case govips.ImageTypeJPEG:
		return mime.JPEG
	case govips.ImageTypePNG:
		return mime.PNG
	case govips.ImageTypeWEBP:
		return mime.WebP
	case govips.ImageTypeTIFF:
		return mime.TIFF
	case govips.ImageTypeGIF:
		return mime.GIF
	}
	return mime.Unknown
}

func colorSpace(i govips.Interpretation, alpha bool) string {
	switch i {
	case govips.InterpretationBW, govips.InterpretationGrey16:
		return "gray"
	case govips.InterpretationCMYK:
		return "cmyk"
	}
	if alpha {
		return "rgba"
	}
	return "rgb"
}

// compile-time interface checks
var (
	_ core.Processor    = (*Processor)(nil)
	_ core.Resizer      = (*Processor)(nil)
	_ core.Converter    = (*Processor)(nil)
	_ core.Sharpener    = (*Processor)(nil)
	_ core.Transposer   = (*Processor)(nil)
	_ core.Flipper      = (*Processor)(nil)
	_ core.AutoOrienter = (*Processor)(nil)
	_ core.Cropper      = (*Processor)(nil)
)
