package raster

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// toNRGBA returns img as a zero-origin *image.NRGBA, copying when needed.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// ── Resize ────────────────────────────────────────────────────────────────────

func resize(src image.Image, w, h int) image.Image {
	srcB := src.Bounds()
	if srcB.Dx() == w && srcB.Dy() == h {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)
	return dst
}

// ── Crop ──────────────────────────────────────────────────────────────────────

func crop(src image.Image, x, y, w, h int) (image.Image, error) {
	b := src.Bounds()
	rect := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+w, b.Min.Y+y+h)
	if !rect.In(b) {
		return nil, fmt.Errorf("crop rect %v exceeds image bounds %v", rect, b)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst, nil
}

// ── Geometry ──────────────────────────────────────────────────────────────────

// remap builds an image of size w×h where each destination pixel (x, y) is
// taken from source pixel at(x, y).
func remap(src *image.NRGBA, w, h int, at func(x, y int) (int, int)) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := at(x, y)
			si := src.PixOffset(sx, sy)
			di := dst.PixOffset(x, y)
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

func flipHorizontal(img image.Image) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, w, h, func(x, y int) (int, int) { return w - 1 - x, y })
}

func flipVertical(img image.Image) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, w, h, func(x, y int) (int, int) { return x, h - 1 - y })
}

// transpose mirrors across the main diagonal.
func transpose(img image.Image) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, h, w, func(x, y int) (int, int) { return y, x })
}

// transverse mirrors across the anti-diagonal.
func transverse(img image.Image) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, h, w, func(x, y int) (int, int) { return w - 1 - y, h - 1 - x })
}

func rotate90(img image.Image) image.Image { // clockwise
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, h, w, func(x, y int) (int, int) { return y, h - 1 - x })
}

func rotate180(img image.Image) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, w, h, func(x, y int) (int, int) { return w - 1 - x, h - 1 - y })
}

func rotate270(img image.Image) image.Image { // clockwise
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	return remap(src, h, w, func(x, y int) (int, int) { return w - 1 - y, x })
}

// orient undoes an Exif orientation (1–8) so the result displays upright.
func orient(img image.Image, orientation int64) (image.Image, error) {
	switch orientation {
	case 1:
		return img, nil
	case 2:
		return flipHorizontal(img), nil
	case 3:
		return rotate180(img), nil
	case 4:
		return flipVertical(img), nil
	case 5:
		return transpose(img), nil
	case 6:
		return rotate90(img), nil
	case 7:
		return transverse(img), nil
	case 8:
		return rotate270(img), nil
	}
	return nil, fmt.Errorf("unable to correct image orientation %d", orientation)
}

// ── Sharpen ───────────────────────────────────────────────────────────────────

// sharpen applies an unsharp mask with a 3×3 Gaussian blur:
// out = src + amount·(src − blur).  Alpha is left untouched.
func sharpen(img image.Image, amount float64) image.Image {
	src := toNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(src.Rect)
	kernel := [3][3]float64{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var blur [3]float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sx := min(max(x+kx, 0), w-1)
					sy := min(max(y+ky, 0), h-1)
					i := src.PixOffset(sx, sy)
					k := kernel[ky+1][kx+1] / 16
					for c := 0; c < 3; c++ {
						blur[c] += k * float64(src.Pix[i+c])
					}
				}
			}
			i := src.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float64(src.Pix[i+c])
				dst.Pix[i+c] = clamp8(v + amount*(v-blur[c]))
			}
			dst.Pix[i+3] = src.Pix[i+3]
		}
	}
	return dst
}

func clamp8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
