// Package mime parses MIME types and detects them from content.
package mime

import (
	"fmt"
	"strings"

	apperrors "github.com/Skryldev/asset-manager/errors"
)

// Type is a lower-case "type/subtype" MIME type.  A subtype of "*" denotes a
// whole category such as "image/*".
type Type string

const (
	Unknown Type = ""

	JPEG Type = "image/jpeg"
	PNG  Type = "image/png"
	GIF  Type = "image/gif"
	WebP Type = "image/webp"
	BMP  Type = "image/bmp"
	TIFF Type = "image/tiff"
	SVG  Type = "image/svg+xml"

	Matroska  Type = "video/x-matroska"
	WebM      Type = "video/webm"
	QuickTime Type = "video/quicktime"
	MP4       Type = "video/mp4"
	OggVideo  Type = "video/ogg"
	AVI       Type = "video/x-msvideo"

	MPEGAudio Type = "audio/mpeg"
	OggAudio  Type = "audio/ogg"
	WAV       Type = "audio/wav"
	M4A       Type = "audio/mp4"
	FLAC      Type = "audio/flac"
)

var aliases = map[string]Type{
	"image/jpg":       JPEG,
	"image/pjpeg":     JPEG,
	"image/x-ms-bmp":  BMP,
	"audio/x-wav":     WAV,
	"audio/wave":      WAV,
	"audio/mp3":       MPEGAudio,
	"video/x-m4v":     MP4,
	"audio/x-m4a":     M4A,
	"audio/x-flac":    FLAC,
	"video/matroska":  Matroska,
	"audio/vorbis":    OggAudio,
	"application/ogg": OggAudio,
}

// Parse validates s and returns its canonical Type.  Parameters after ';'
// are dropped and well-known aliases are folded ("image/jpg" → image/jpeg).
func Parse(s string) (Type, error) {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	major, minor, ok := strings.Cut(s, "/")
	if !ok || major == "" || minor == "" || major == "*" || strings.Contains(minor, "/") || strings.ContainsAny(s, " \t") {
		return Unknown, apperrors.Newf(apperrors.CategoryConfig, "mime.parse", "%w: invalid mime type %q", apperrors.ErrInvalidParameter, s)
	}
	if t, ok := aliases[s]; ok {
		return t, nil
	}
	return Type(s), nil
}

// MustParse is Parse for package-level constants; it panics on error.
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) String() string { return string(t) }

// Category returns the part before the slash ("image" for image/png).
func (t Type) Category() string {
	major, _, _ := strings.Cut(string(t), "/")
	return major
}

// Subtype returns the part after the slash.
func (t Type) Subtype() string {
	_, minor, _ := strings.Cut(string(t), "/")
	return minor
}

// IsWildcard reports whether t names a whole category.
func (t Type) IsWildcard() bool { return t.Subtype() == "*" }

// Wildcard returns the category wildcard for t ("image/*").
func (t Type) Wildcard() Type { return Type(t.Category() + "/*") }

// Matches reports whether t is covered by pattern, which may be a wildcard.
func (t Type) Matches(pattern Type) bool {
	if pattern.IsWildcard() {
		return t.Category() == pattern.Category()
	}
	return t == pattern
}

// IsImage, IsVideo and IsAudio test the category.
func (t Type) IsImage() bool { return t.Category() == "image" }
func (t Type) IsVideo() bool { return t.Category() == "video" }
func (t Type) IsAudio() bool { return t.Category() == "audio" }

// AmbiguityError is returned when content matches more than one type.
type AmbiguityError struct {
	Candidates []Type
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%v: candidates %v", apperrors.ErrAmbiguousFormat, e.Candidates)
}

func (e *AmbiguityError) Unwrap() error { return apperrors.ErrAmbiguousFormat }
