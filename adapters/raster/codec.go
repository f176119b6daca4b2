// Package raster is a pure-Go Processor for still images built on the
// standard image codecs and golang.org/x/image.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/Skryldev/asset-manager/config"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// readable lists the types Read and the operators accept.  WebP has no
// pure-Go encoder, so it can be read but never produced.
var readable = []mime.Type{mime.JPEG, mime.PNG, mime.GIF, mime.BMP, mime.TIFF, mime.WebP}

// writable lists the types operators can encode to.
var writable = []mime.Type{mime.JPEG, mime.PNG, mime.GIF, mime.BMP, mime.TIFF}

func decode(r io.Reader, mt mime.Type) (image.Image, error) {
	switch mt {
	case mime.JPEG:
		return jpeg.Decode(r)
	case mime.PNG:
		return png.Decode(r)
	case mime.GIF:
		return gif.Decode(r)
	case mime.BMP:
		return bmp.Decode(r)
	case mime.TIFF:
		return tiff.Decode(r)
	case mime.WebP:
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mt)
}

func decodeConfig(r io.Reader, mt mime.Type) (image.Config, error) {
	switch mt {
	case mime.JPEG:
		return jpeg.DecodeConfig(r)
	case mime.PNG:
		return png.DecodeConfig(r)
	case mime.GIF:
		return gif.DecodeConfig(r)
	case mime.BMP:
		return bmp.DecodeConfig(r)
	case mime.TIFF:
		return tiff.DecodeConfig(r)
	case mime.WebP:
		return webp.DecodeConfig(r)
	}
	return image.Config{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mt)
}

// encode serialises img as mt using the per-type options of formats.
func encode(img image.Image, mt mime.Type, formats config.FormatOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch mt {
	case mime.JPEG:
		// image/jpeg writes baseline only; "progressive" is honoured by the
		// libvips processor.
		quality := formats.Int(string(mime.JPEG), "quality", 80)
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(quality, 1)})
	case mime.PNG:
		enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
		if formats.Bool(string(mime.PNG), "zopfli", true) {
			enc.CompressionLevel = png.BestCompression // closest approximation
		}
		err = enc.Encode(&buf, img)
	case mime.GIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	case mime.BMP:
		err = bmp.Encode(&buf, img)
	case mime.TIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return nil, fmt.Errorf("%w: cannot encode %s", apperrors.ErrUnsupportedFormat, mt)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// colorSpace names the colour model reported by a decoder.
func colorSpace(m color.Model) string {
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.CMYKModel:
		return "cmyk"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "rgba"
	case color.YCbCrModel, color.NYCbCrAModel:
		return "rgb"
	}
	if _, ok := m.(color.Palette); ok {
		return "palette"
	}
	return "rgb"
}
