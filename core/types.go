package core

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"time"

	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/utils"
)

// Reserved metadata keys.  Keys are namespaced by source so that several
// metadata processors can describe the same asset without collisions.
const (
	KeyMimeType     = "mime_type"
	KeyWidth        = "derived.width"
	KeyHeight       = "derived.height"
	KeyDuration     = "derived.duration"
	KeyFrameCount   = "derived.frame_count"
	KeyColorSpace   = "derived.color_space"
	KeyVideoCodec   = "derived.video.codec"
	KeyVideoBitrate = "derived.video.bitrate"
	KeyAudioCodec   = "derived.audio.codec"
	KeyAudioBitrate = "derived.audio.bitrate"

	NamespaceDerived = "derived"
	NamespaceExif    = "exif"
	NamespaceXMP     = "xmp"
)

// ── Metadata ──────────────────────────────────────────────────────────────────

// Metadata maps namespaced keys to values.  Values held by an Asset are
// normalised to string, bool, int64, float64, []byte, []any or
// map[string]any so that they survive persistence unchanged.
type Metadata map[string]any

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new mapping holding the keys of both; other wins on
// conflicts.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = cloneValue(v)
	}
	return out
}

// Get returns the raw value stored under key.
func (m Metadata) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Int returns the value under key as an integer.  Integral floats are
// accepted.
func (m Metadata) Int(key string) (int64, bool) {
	switch n := m[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// Float returns the value under key as a float.
func (m Metadata) Float(key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Namespace returns the keys of m that belong to ns ("exif" matches
// "exif.iso" but not "exifdata").
func (m Metadata) Namespace(ns string) Metadata {
	prefix := ns + "."
	out := Metadata{}
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// Without returns a copy of m lacking every key of namespace ns.
func (m Metadata) Without(ns string) Metadata {
	prefix := ns + "."
	out := make(Metadata, len(m))
	for k, v := range m {
		if !strings.HasPrefix(k, prefix) {
			out[k] = cloneValue(v)
		}
	}
	return out
}

// Normalize returns a copy of m with every value converted to the canonical
// value set.
func Normalize(m Metadata) Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64:
		return x
	case []byte:
		return utils.CloneBytes(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return float64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.Seconds()
	case mime.Type:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case Metadata:
		return normalize(map[string]any(x))
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = normalize(iter.Value().Interface())
			}
			return out
		}
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(v)
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return utils.CloneBytes(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	}
	return v
}

// ── Asset ─────────────────────────────────────────────────────────────────────

// Asset combines an encoded essence with its metadata.  It is immutable:
// constructors and accessors copy, and every transform yields a new Asset.
type Asset struct {
	essence  []byte
	metadata Metadata
}

// NewAsset copies essence and md into a new Asset.
func NewAsset(essence []byte, md Metadata) *Asset {
	return &Asset{
		essence:  utils.CloneBytes(essence),
		metadata: Normalize(md),
	}
}

// ReadAsset drains r into a new Asset.  r is not closed.
func ReadAsset(r io.Reader, md Metadata) (*Asset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "asset.read", err)
	}
	return &Asset{essence: data, metadata: Normalize(md)}, nil
}

// Essence returns a fresh reader over the essence bytes on every call.
func (a *Asset) Essence() io.Reader { return bytes.NewReader(a.essence) }

// Bytes returns a copy of the essence.
func (a *Asset) Bytes() []byte { return utils.CloneBytes(a.essence) }

// Size is the essence length in bytes.
func (a *Asset) Size() int64 { return int64(len(a.essence)) }

// Metadata returns a copy of the metadata mapping.
func (a *Asset) Metadata() Metadata { return a.metadata.Clone() }

// Get returns a copy of a single metadata value.
func (a *Asset) Get(key string) (any, bool) {
	v, ok := a.metadata[key]
	return cloneValue(v), ok
}

// MimeType returns the asset's content type, or mime.Unknown.
func (a *Asset) MimeType() mime.Type {
	s, _ := a.metadata.String(KeyMimeType)
	return mime.Type(s)
}

// Width returns derived.width, or 0 when the asset has no spatial extent.
func (a *Asset) Width() int {
	n, _ := a.metadata.Int(KeyWidth)
	return int(n)
}

// Height returns derived.height, or 0.
func (a *Asset) Height() int {
	n, _ := a.metadata.Int(KeyHeight)
	return int(n)
}

// Duration returns derived.duration in seconds, or 0 for still media.
func (a *Asset) Duration() float64 {
	f, _ := a.metadata.Float(KeyDuration)
	return f
}

// WithMetadata returns a new Asset sharing the essence whose metadata is the
// current mapping merged with md (md wins).
func (a *Asset) WithMetadata(md Metadata) *Asset {
	return &Asset{essence: a.essence, metadata: a.metadata.Merge(Normalize(md))}
}

// WithoutMetadata returns a new Asset lacking every key of namespace ns.
func (a *Asset) WithoutMetadata(ns string) *Asset {
	return &Asset{essence: a.essence, metadata: a.metadata.Without(ns)}
}

// WithEssence returns a new Asset carrying essence and the current metadata.
func (a *Asset) WithEssence(essence []byte) *Asset {
	return &Asset{essence: utils.CloneBytes(essence), metadata: a.metadata.Clone()}
}

// Equal reports whether a and b hold identical essence and metadata.
func (a *Asset) Equal(b *Asset) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.essence, b.essence) && reflect.DeepEqual(a.metadata, b.metadata)
}

func (a *Asset) String() string {
	return fmt.Sprintf("Asset(%s, %dB, %d keys)", a.MimeType(), len(a.essence), len(a.metadata))
}

// ── Operator parameters ───────────────────────────────────────────────────────

// ResizeMode selects how resize treats the aspect ratio.
type ResizeMode int

const (
	// ResizeExact scales to exactly width×height.
	ResizeExact ResizeMode = iota
	// ResizeFit scales so the result fits inside width×height.
	ResizeFit
	// ResizeFill scales so the result covers width×height.
	ResizeFill
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeExact:
		return "exact"
	case ResizeFit:
		return "fit"
	case ResizeFill:
		return "fill"
	}
	return fmt.Sprintf("ResizeMode(%d)", int(m))
}

// Valid reports whether m is one of the declared modes.
func (m ResizeMode) Valid() bool { return m >= ResizeExact && m <= ResizeFill }

// Dimensions computes the output size for a srcW×srcH source.
func (m ResizeMode) Dimensions(srcW, srcH, width, height int) (int, int) {
	switch m {
	case ResizeFit:
		return utils.FitDimensions(srcW, srcH, width, height)
	case ResizeFill:
		return utils.FillDimensions(srcW, srcH, width, height)
	}
	return width, height
}

// ParseResizeMode accepts "exact", "fit" and "fill" in any case.
func ParseResizeMode(s string) (ResizeMode, error) {
	switch strings.ToLower(s) {
	case "exact", "":
		return ResizeExact, nil
	case "fit":
		return ResizeFit, nil
	case "fill":
		return ResizeFill, nil
	}
	return 0, apperrors.Newf(apperrors.CategoryConfig, "resize.mode", "%w: unknown resize mode %q", apperrors.ErrInvalidParameter, s)
}

// FlipOrientation is the axis of a flip.
type FlipOrientation int

const (
	FlipHorizontal FlipOrientation = iota
	FlipVertical
)

func (o FlipOrientation) String() string {
	switch o {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	}
	return fmt.Sprintf("FlipOrientation(%d)", int(o))
}

// Valid reports whether o is one of the declared orientations.
func (o FlipOrientation) Valid() bool { return o == FlipHorizontal || o == FlipVertical }

// StreamDisabled as a codec name drops that stream from the output.
const StreamDisabled = "none"

// ConvertOptions refines a Convert operator.  Raster processors only use
// the target type; the stream fields apply to audio/video containers.  An
// empty codec keeps the container's default encoder.
type ConvertOptions struct {
	VideoCodec    string
	AudioCodec    string
	SubtitleCodec string
	VideoBitrate  int // kbit/s, 0 = codec default
	AudioBitrate  int // kbit/s, 0 = codec default
}
