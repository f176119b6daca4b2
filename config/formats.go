package config

import (
	"fmt"
	"math"
	"strings"
)

// FormatOptions maps a MIME type, a MIME category ("image/*") or a synthetic
// codec key ("codec/libx264") to its option mapping.
type FormatOptions map[string]map[string]any

// CodecKey returns the synthetic FormatOptions key for an encoder name.
func CodecKey(codec string) string { return "codec/" + codec }

// DefaultFormats returns the built-in option set.
func DefaultFormats() FormatOptions {
	return FormatOptions{
		"image/jpeg":       {"quality": 80, "progressive": true},
		"image/png":        {"zopfli": true, "zopfliStrategies": "0me"},
		"image/webp":       {"method": 6, "quality": 80},
		"video/quicktime":  {"faststart": true},
		"codec/libx264":    {"crf": 23},
		"codec/libx265":    {"crf": 28},
		"codec/libvpx":     {"crf": 10},
		"codec/libvpx-vp9": {"crf": 32},
	}
}

// Merge returns a new FormatOptions where entries of other override entries of
// f option by option.
func (f FormatOptions) Merge(other FormatOptions) FormatOptions {
	out := make(FormatOptions, len(f)+len(other))
	for k, opts := range f {
		out[k] = copyOpts(opts)
	}
	for k, opts := range other {
		dst, ok := out[k]
		if !ok {
			dst = make(map[string]any, len(opts))
			out[k] = dst
		}
		for name, v := range opts {
			dst[name] = v
		}
	}
	return out
}

// Lookup returns the raw option value.  An exact key wins over its category
// ("image/*").
func (f FormatOptions) Lookup(key, option string) (any, bool) {
	if opts, ok := f[key]; ok {
		if v, ok := opts[option]; ok {
			return v, true
		}
	}
	if i := strings.IndexByte(key, '/'); i > 0 {
		if opts, ok := f[key[:i]+"/*"]; ok {
			if v, ok := opts[option]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// Int returns an integer option or fallback when it is absent or not numeric.
func (f FormatOptions) Int(key, option string, fallback int) int {
	v, ok := f.Lookup(key, option)
	if !ok {
		return fallback
	}
	n, ok := toInt(v)
	if !ok {
		return fallback
	}
	return n
}

// Bool returns a boolean option or fallback.
func (f FormatOptions) Bool(key, option string, fallback bool) bool {
	v, ok := f.Lookup(key, option)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// String returns a string option or fallback.
func (f FormatOptions) String(key, option string, fallback string) string {
	v, ok := f.Lookup(key, option)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

type intRange struct {
	key, option string
	min, max    int
}

var rangeChecks = []intRange{
	{"image/jpeg", "quality", 0, 100},
	{"image/webp", "quality", 0, 100},
	{"image/webp", "method", 0, 6},
	{"codec/libx264", "crf", 0, 51},
	{"codec/libx265", "crf", 0, 51},
	{"codec/libvpx", "crf", 0, 63},
	{"codec/libvpx-vp9", "crf", 0, 63},
}

// Validate checks option types and ranges of the recognised keys.
func (f FormatOptions) Validate() error {
	for _, rc := range rangeChecks {
		v, ok := f.Lookup(rc.key, rc.option)
		if !ok {
			continue
		}
		n, ok := toInt(v)
		if !ok {
			return fmt.Errorf("config: %s.%s must be an integer, got %T", rc.key, rc.option, v)
		}
		if n < rc.min || n > rc.max {
			return fmt.Errorf("config: %s.%s must be between %d and %d, got %d", rc.key, rc.option, rc.min, rc.max, n)
		}
	}
	for _, b := range [][2]string{{"image/jpeg", "progressive"}, {"image/png", "zopfli"}, {"video/quicktime", "faststart"}} {
		if v, ok := f.Lookup(b[0], b[1]); ok {
			if _, isBool := v.(bool); !isBool {
				return fmt.Errorf("config: %s.%s must be a boolean, got %T", b[0], b[1], v)
			}
		}
	}
	return nil
}

func copyOpts(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
