package raster

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"io"
	"math"
	"slices"

	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// Processor reads still images and provides pixel operators.  It keeps no
// mutable state and is safe for concurrent use.
type Processor struct {
	formats config.FormatOptions
}

// New returns a Processor encoding with the given per-type options.  A nil
// formats uses config.DefaultFormats.
func New(formats config.FormatOptions) *Processor {
	if formats == nil {
		formats = config.DefaultFormats()
	}
	return &Processor{formats: formats}
}

func (p *Processor) MimeTypes() []mime.Type { return slices.Clone(readable) }

// Read inspects the image header and returns an Asset carrying the encoded
// bytes together with mime_type, dimensions and colour space.
func (p *Processor) Read(ctx context.Context, r io.Reader) (*core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "raster.read", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "raster.read", err)
	}
	mt, err := mime.Detect(data)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(readable, mt) {
		return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "raster.read", "%w: %s", apperrors.ErrUnsupportedFormat, mt)
	}
	cfg, err := decodeConfig(bytes.NewReader(data), mt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "raster.read", err)
	}
	md := core.Metadata{
		core.KeyMimeType:   string(mt),
		core.KeyWidth:      cfg.Width,
		core.KeyHeight:     cfg.Height,
		core.KeyColorSpace: colorSpace(cfg.ColorModel),
	}
	if mt == mime.GIF {
		if all, err := gif.DecodeAll(bytes.NewReader(data)); err == nil {
			md[core.KeyFrameCount] = len(all.Image)
		}
	}
	return core.NewAsset(data, md), nil
}

// Write copies the encoded essence to w.
func (p *Processor) Write(ctx context.Context, a *core.Asset, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, "raster.write", err)
	}
	if !slices.Contains(readable, a.MimeType()) {
		return apperrors.Newf(apperrors.CategoryUnsupportedFormat, "raster.write", "%w: %s", apperrors.ErrUnsupportedFormat, a.MimeType())
	}
	_, err := io.Copy(w, a.Essence())
	return apperrors.Wrap(apperrors.CategoryInput, "raster.write", err)
}

// ── Operators ─────────────────────────────────────────────────────────────────

// pixelFunc transforms a decoded image.  It may also return metadata to
// merge into the result.
type pixelFunc func(a *core.Asset, img image.Image) (image.Image, core.Metadata, error)

// operator binds fn into an Operator that decodes, transforms and encodes as
// target (or the input type when target is empty).  Dimension metadata is
// refreshed; everything else is preserved.
func (p *Processor) operator(name string, params map[string]any, target mime.Type, fn pixelFunc) *core.Operator {
	return core.NewOperator(name, params, func(ctx context.Context, a *core.Asset) (*core.Asset, error) {
		src := a.MimeType()
		if !slices.Contains(readable, src) {
			return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, name, "%w: %s", apperrors.ErrUnsupportedFormat, src)
		}
		out := target
		if out == mime.Unknown {
			out = src
		}
		img, err := decode(a.Essence(), src)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, extra, err := fn(a, img)
		if err != nil {
			return nil, err
		}
		encoded, err := encode(img, out, p.formats)
		if err != nil {
			return nil, err
		}

		b := img.Bounds()
		md := a.Metadata().Merge(extra)
		md[core.KeyMimeType] = string(out)
		md[core.KeyWidth] = b.Dx()
		md[core.KeyHeight] = b.Dy()
		if out == mime.GIF {
			md[core.KeyFrameCount] = 1
		} else {
			delete(md, core.KeyFrameCount)
		}
		return core.NewAsset(encoded, md), nil
	})
}

// Resize scales to width×height according to mode.
func (p *Processor) Resize(width, height int, mode core.ResizeMode) (*core.Operator, error) {
	if err := core.ValidateDimensions("raster.resize", width, height); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, core.ConfigError("raster.resize", "unknown resize mode %v", mode)
	}
	params := map[string]any{"width": width, "height": height, "mode": mode.String()}
	return p.operator("resize", params, mime.Unknown, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		b := img.Bounds()
		w, h := mode.Dimensions(b.Dx(), b.Dy(), width, height)
		return resize(img, w, h), nil, nil
	}), nil
}

// Convert re-encodes as target.  Stream options do not apply to stills.
func (p *Processor) Convert(target mime.Type, _ core.ConvertOptions) (*core.Operator, error) {
	if err := core.ValidateTarget("raster.convert", target, writable); err != nil {
		return nil, err
	}
	params := map[string]any{"mime_type": string(target)}
	return p.operator("convert", params, target, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		return img, nil, nil
	}), nil
}

// Sharpen applies an unsharp mask of the given strength.
func (p *Processor) Sharpen(amount float64) (*core.Operator, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, core.ConfigError("raster.sharpen", "amount must be a positive number, got %v", amount)
	}
	return p.operator("sharpen", map[string]any{"amount": amount}, mime.Unknown, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		return sharpen(img, amount), nil, nil
	}), nil
}

// Transpose mirrors the image across its main diagonal.
func (p *Processor) Transpose() (*core.Operator, error) {
	return p.operator("transpose", nil, mime.Unknown, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		return transpose(img), nil, nil
	}), nil
}

// Flip mirrors the image along orientation.
func (p *Processor) Flip(orientation core.FlipOrientation) (*core.Operator, error) {
	if !orientation.Valid() {
		return nil, core.ConfigError("raster.flip", "unknown orientation %v", orientation)
	}
	return p.operator("flip", map[string]any{"orientation": orientation.String()}, mime.Unknown, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		if orientation == core.FlipHorizontal {
			return flipHorizontal(img), nil, nil
		}
		return flipVertical(img), nil, nil
	}), nil
}

// AutoOrient rotates according to exif.orientation and resets it to 1.
// Assets without an orientation are treated as upright.
func (p *Processor) AutoOrient() (*core.Operator, error) {
	return p.operator("auto_orient", nil, mime.Unknown, func(a *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		md := a.Metadata()
		o, ok := md.Int(exifOrientation)
		if !ok {
			return img, nil, nil
		}
		out, err := orient(img, o)
		if err != nil {
			return nil, nil, err
		}
		return out, core.Metadata{exifOrientation: int64(1)}, nil
	}), nil
}

const exifOrientation = core.NamespaceExif + ".orientation"

// Crop cuts the width×height rectangle whose top-left corner is (x, y).
// Bounds are checked against each image when applied.
func (p *Processor) Crop(x, y, width, height int) (*core.Operator, error) {
	if err := core.ValidateDimensions("raster.crop", width, height); err != nil {
		return nil, err
	}
	if x < 0 || y < 0 {
		return nil, core.ConfigError("raster.crop", "negative origin (%d, %d)", x, y)
	}
	params := map[string]any{"x": x, "y": y, "width": width, "height": height}
	return p.operator("crop", params, mime.Unknown, func(_ *core.Asset, img image.Image) (image.Image, core.Metadata, error) {
		out, err := crop(img, x, y, width, height)
		return out, nil, err
	}), nil
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
