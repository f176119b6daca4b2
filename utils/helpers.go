package utils

import "math"

// FitDimensions scales (srcW, srcH) by the smaller of the two axis factors so
// the result fits inside targetW×targetH with the aspect ratio preserved.
func FitDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	fx := float64(targetW) / float64(srcW)
	fy := float64(targetH) / float64(srcH)
	return scaleBy(srcW, srcH, math.Min(fx, fy))
}

// FillDimensions scales (srcW, srcH) by the larger of the two axis factors so
// the result covers targetW×targetH with the aspect ratio preserved.
func FillDimensions(srcW, srcH, targetW, targetH int) (int, int) {
	fx := float64(targetW) / float64(srcW)
	fy := float64(targetH) / float64(srcH)
	return scaleBy(srcW, srcH, math.Max(fx, fy))
}

func scaleBy(w, h int, f float64) (int, int) {
	return atLeastOne(float64(w) * f), atLeastOne(float64(h) * f)
}

func atLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
