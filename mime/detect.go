package mime

import (
	"bytes"

	apperrors "github.com/Skryldev/asset-manager/errors"
)

// SniffLen is the number of leading bytes Detect inspects.
const SniffLen = 4096

// Detect sniffs the leading bytes of data and returns the content type.  It
// fails with a format-detection error when the content is unrecognisable or
// matches several types.
func Detect(data []byte) (Type, error) {
	if len(data) == 0 {
		return Unknown, apperrors.New(apperrors.CategoryFormatDetection, "mime.detect", apperrors.ErrEmptyInput)
	}
	if len(data) > SniffLen {
		data = data[:SniffLen]
	}
	t, candidates := sniff(data)
	switch {
	case t != Unknown:
		return t, nil
	case len(candidates) > 1:
		return Unknown, apperrors.New(apperrors.CategoryFormatDetection, "mime.detect", &AmbiguityError{Candidates: candidates})
	}
	return Unknown, apperrors.New(apperrors.CategoryFormatDetection, "mime.detect", apperrors.ErrUndetectableFormat)
}

// DetectWithHint resolves the content type using a caller-stated hint.  The
// hint settles ambiguous or unrecognisable content; a hint that contradicts
// a conclusive sniff is rejected.
func DetectWithHint(data []byte, hint Type) (Type, error) {
	if hint == Unknown || len(data) == 0 {
		return Detect(data)
	}
	if len(data) > SniffLen {
		data = data[:SniffLen]
	}
	t, candidates := sniff(data)
	switch {
	case t == Unknown && len(candidates) == 0:
		return hint, nil
	case t == Unknown:
		for _, c := range candidates {
			if c == hint {
				return hint, nil
			}
		}
		return Unknown, apperrors.Newf(apperrors.CategoryFormatDetection, "mime.detect",
			"%w: %s not among %v", apperrors.ErrContradictoryFormat, hint, candidates)
	case t == hint || equivalent(t, hint):
		return hint, nil
	}
	return Unknown, apperrors.Newf(apperrors.CategoryFormatDetection, "mime.detect",
		"%w: stated %s, content is %s", apperrors.ErrContradictoryFormat, hint, t)
}

// equivalent folds container families whose signatures cannot be told apart
// reliably from the first bytes.
func equivalent(a, b Type) bool {
	family := func(t Type) string {
		switch t {
		case MP4, QuickTime, M4A:
			return "isobmff"
		case Matroska, WebM:
			return "matroska"
		}
		return string(t)
	}
	return family(a) == family(b)
}

// sniff returns either a conclusive type or the list of candidates.
func sniff(data []byte) (Type, []Type) {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return JPEG, nil
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return PNG, nil
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return GIF, nil
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return TIFF, nil
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")):
		switch string(data[8:12]) {
		case "WEBP":
			return WebP, nil
		case "WAVE":
			return WAV, nil
		case "AVI ":
			return AVI, nil
		}
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		return isoBrand(string(data[8:12])), nil
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		if bytes.Contains(data[:min(len(data), 64)], []byte("webm")) {
			return WebM, nil
		}
		return Matroska, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return sniffOgg(data)
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FLAC, nil
	case bytes.HasPrefix(data, []byte("ID3")):
		return MPEGAudio, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && (data[1]>>1)&0x03 != 0:
		return MPEGAudio, nil
	case bytes.HasPrefix(data, []byte("BM")) && len(data) >= 14:
		return BMP, nil
	}
	if isSVG(data) {
		return SVG, nil
	}
	// Only the signatures above are recognised; anything else, plain text
	// included, is undetectable.
	return Unknown, nil
}

func isoBrand(brand string) Type {
	switch brand {
	case "qt  ":
		return QuickTime
	case "M4A ", "M4B ", "M4P ":
		return M4A
	}
	return MP4
}

// sniffOgg inspects the codec identification headers of the first pages.  An
// Ogg stream whose codecs cannot be identified could be audio or video.
func sniffOgg(data []byte) (Type, []Type) {
	switch {
	case bytes.Contains(data, []byte("\x80theora")), bytes.Contains(data, []byte("\x01video")):
		return OggVideo, nil
	case bytes.Contains(data, []byte("\x01vorbis")), bytes.Contains(data, []byte("OpusHead")),
		bytes.Contains(data, []byte("\x7fFLAC")), bytes.Contains(data, []byte("Speex   ")):
		return OggAudio, nil
	}
	return Unknown, []Type{OggAudio, OggVideo}
}

func isSVG(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}
	return bytes.Contains(trimmed, []byte("<svg"))
}
