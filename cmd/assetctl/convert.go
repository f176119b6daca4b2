package main

import (
	"context"
	"fmt"
	"io"
	stdmime "mime"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	assetmanager "github.com/Skryldev/asset-manager"
	"github.com/Skryldev/asset-manager/core"
	"github.com/Skryldev/asset-manager/mime"
)

// convertFlags are applied in a fixed order: auto-orient, crop, trim,
// resize, sharpen, flip, strip, convert.
type convertFlags struct {
	to         string
	autoOrient bool
	crop       []int
	trim       []float64
	resize     string
	mode       string
	sharpen    float64
	flip       string
	strip      []string
	opts       core.ConvertOptions
}

func (c *convertFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.to, "to", "", "target MIME type (default: from the output extension)")
	fs.BoolVar(&c.autoOrient, "auto-orient", false, "rotate according to the Exif orientation")
	fs.IntSliceVar(&c.crop, "crop", nil, "crop rectangle x,y,width,height")
	fs.Float64SliceVar(&c.trim, "trim", nil, "keep the time range from,to in seconds (negative to counts from the end)")
	fs.StringVar(&c.resize, "resize", "", "target size WIDTHxHEIGHT")
	fs.StringVar(&c.mode, "mode", "exact", "resize mode: exact, fit or fill")
	fs.Float64Var(&c.sharpen, "sharpen", 0, "unsharp mask amount")
	fs.StringVar(&c.flip, "flip", "", "flip axis: horizontal or vertical")
	fs.StringSliceVar(&c.strip, "strip", nil, "metadata namespaces to drop (exif, xmp, ffmetadata)")
	fs.StringVar(&c.opts.VideoCodec, "video-codec", "", "video encoder, or \"none\" to drop the stream")
	fs.StringVar(&c.opts.AudioCodec, "audio-codec", "", "audio encoder, or \"none\" to drop the stream")
	fs.StringVar(&c.opts.SubtitleCodec, "subtitle-codec", "", "subtitle encoder, or \"none\" to drop the stream")
	fs.IntVar(&c.opts.VideoBitrate, "video-bitrate", 0, "video bitrate in kbit/s")
	fs.IntVar(&c.opts.AudioBitrate, "audio-bitrate", 0, "audio bitrate in kbit/s")
}

func runConvert(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var g globals
	var c convertFlags
	fs := newFlagSet("convert", &g, stderr)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest, err := expectArgs(fs, 2, "IN OUT")
	if err != nil {
		return err
	}
	cfg, err := g.config()
	if err != nil {
		return err
	}
	m, release, err := g.manager(cfg)
	if err != nil {
		return err
	}
	defer release()

	a, err := m.ReadFile(ctx, rest[0])
	if err != nil {
		return err
	}
	ops, err := c.operators(m, a.MimeType(), rest[1])
	if err != nil {
		return err
	}
	out, timings, err := m.NewPipeline(ops...).Run(ctx, a)
	if err != nil {
		return err
	}
	for _, ns := range c.strip {
		out = out.WithoutMetadata(ns)
	}
	if err := m.WriteFile(ctx, out, rest[1]); err != nil {
		return err
	}
	for _, op := range ops {
		fmt.Fprintf(stdout, "%-12s %v\n", op.Name(), timings[op.Name()])
	}
	fmt.Fprintf(stdout, "wrote %s (%s, %d bytes)\n", rest[1], out.MimeType(), out.Size())
	return nil
}

// operators builds the requested operators for an asset of type mt.
func (c *convertFlags) operators(m *assetmanager.Manager, mt mime.Type, outPath string) ([]*core.Operator, error) {
	var ops []*core.Operator
	add := func(op *core.Operator, err error) error {
		if err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	}

	if c.autoOrient {
		p, err := core.Capability[core.AutoOrienter](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.AutoOrient()); err != nil {
			return nil, err
		}
	}
	if len(c.crop) > 0 {
		if len(c.crop) != 4 {
			return nil, fmt.Errorf("--crop wants x,y,width,height, got %v", c.crop)
		}
		p, err := core.Capability[core.Cropper](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Crop(c.crop[0], c.crop[1], c.crop[2], c.crop[3])); err != nil {
			return nil, err
		}
	}
	if len(c.trim) > 0 {
		if len(c.trim) != 2 {
			return nil, fmt.Errorf("--trim wants from,to, got %v", c.trim)
		}
		p, err := core.Capability[core.Trimmer](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Trim(c.trim[0], c.trim[1])); err != nil {
			return nil, err
		}
	}
	if c.resize != "" {
		var w, h int
		if _, err := fmt.Sscanf(strings.ToLower(c.resize), "%dx%d", &w, &h); err != nil {
			return nil, fmt.Errorf("--resize wants WIDTHxHEIGHT, got %q", c.resize)
		}
		mode, err := core.ParseResizeMode(c.mode)
		if err != nil {
			return nil, err
		}
		p, err := core.Capability[core.Resizer](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Resize(w, h, mode)); err != nil {
			return nil, err
		}
	}
	if c.sharpen != 0 {
		p, err := core.Capability[core.Sharpener](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Sharpen(c.sharpen)); err != nil {
			return nil, err
		}
	}
	if c.flip != "" {
		var o core.FlipOrientation
		switch strings.ToLower(c.flip) {
		case "horizontal", "h":
			o = core.FlipHorizontal
		case "vertical", "v":
			o = core.FlipVertical
		default:
			return nil, fmt.Errorf("--flip wants horizontal or vertical, got %q", c.flip)
		}
		p, err := core.Capability[core.Flipper](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Flip(o)); err != nil {
			return nil, err
		}
	}

	target, err := c.target(outPath, mt)
	if err != nil {
		return nil, err
	}
	if target != mt || c.opts != (core.ConvertOptions{}) {
		p, err := core.Capability[core.Converter](m.Manager, mt)
		if err != nil {
			return nil, err
		}
		if err := add(p.Convert(target, c.opts)); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

// target resolves --to, falling back to the output file extension and then
// to the source type.
func (c *convertFlags) target(outPath string, src mime.Type) (mime.Type, error) {
	if c.to != "" {
		return mime.Parse(c.to)
	}
	if t := stdmime.TypeByExtension(strings.ToLower(filepath.Ext(outPath))); t != "" {
		if mt, err := mime.Parse(t); err == nil {
			return mt, nil
		}
	}
	return src, nil
}
