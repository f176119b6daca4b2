// Package exif reads and writes Exif blocks of JPEG images.  Tags map onto
// exif.* metadata keys; see fields for the supported set.
package exif

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"maps"
	"slices"
	"strings"

	goexif "github.com/rwcarlsen/goexif/exif"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/utils"
)

// FormatName is the metadata namespace of Exif keys.
const FormatName = core.NamespaceExif

// header prefixes the TIFF payload inside the APP1 segment.
var header = []byte("Exif\x00\x00")

// Processor is a core.MetadataProcessor for Exif.
type Processor struct{}

func New() *Processor { return &Processor{} }

func (p *Processor) Format() string { return FormatName }

func (p *Processor) MimeTypes() []mime.Type { return []mime.Type{mime.JPEG} }

// Read extracts the Exif block of a JPEG stream.  Tags goexif cannot parse
// are skipped; a JPEG without an Exif segment yields ErrNoMetadata.
func (p *Processor) Read(_ context.Context, r io.Reader) (core.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "exif.read", err)
	}
	block, ok, err := utils.JPEGAppSegment(data, header)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "exif.read", err)
	}
	if !ok {
		return nil, apperrors.ErrNoMetadata
	}

	x, err := goexif.Decode(bytes.NewReader(block))
	if err != nil && (x == nil || goexif.IsCriticalError(err)) {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "exif.read", err)
	}

	md := core.Metadata{}
	for _, f := range fields {
		tag, err := x.Get(f.name)
		if err != nil {
			continue
		}
		if v, ok := f.decode(tag); ok {
			md[FormatName+"."+f.key] = v
		}
	}
	return md, nil
}

// Write serialises the exif.* keys of md as an APP1 payload: the Exif
// header followed by a little-endian TIFF structure.
func (p *Processor) Write(_ context.Context, md core.Metadata) ([]byte, error) {
	var dirs [3][]entry
	prefix := FormatName + "."
	for _, k := range slices.Sorted(maps.Keys(md)) {
		key, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		f, ok := lookupField(key)
		if !ok {
			return nil, apperrors.Newf(apperrors.CategoryInput, "exif.write", "%w: unknown key %q", apperrors.ErrInvalidParameter, k)
		}
		e, err := f.encode(md[k])
		if err != nil {
			return nil, apperrors.Newf(apperrors.CategoryInput, "exif.write", "%w: %s: %v", apperrors.ErrInvalidParameter, k, err)
		}
		dirs[f.dir] = append(dirs[f.dir], e)
	}
	return append(utils.CloneBytes(header), marshalTIFF(dirs)...), nil
}

func (p *Processor) Combine(a, b core.Metadata) core.Metadata { return a.Merge(b) }

// Embed replaces any Exif segment of a JPEG essence with block.
func (p *Processor) Embed(_ context.Context, essence, block []byte) ([]byte, error) {
	if !bytes.HasPrefix(block, header) {
		return nil, apperrors.Newf(apperrors.CategoryInput, "exif.embed", "%w: block lacks Exif header", apperrors.ErrInvalidParameter)
	}
	out, err := utils.ReplaceJPEGAppSegment(essence, header, block)
	return out, apperrors.Wrap(apperrors.CategoryInput, "exif.embed", err)
}

// Strip removes every Exif segment.
func (p *Processor) Strip(_ context.Context, essence []byte) ([]byte, error) {
	out, err := utils.ReplaceJPEGAppSegment(essence, header, nil)
	return out, apperrors.Wrap(apperrors.CategoryInput, "exif.strip", err)
}

// ── TIFF serialisation ────────────────────────────────────────────────────────

const (
	tagExifPointer uint16 = 0x8769
	tagGPSPointer  uint16 = 0x8825
	tagExifVersion uint16 = 0x9000
	tagGPSVersion  uint16 = 0x0000
)

// marshalTIFF lays out IFD0 at offset 8 followed by the Exif and GPS
// sub-IFDs.  Each IFD is followed by the values that do not fit inline.
func marshalTIFF(dirs [3][]entry) []byte {
	le := binary.LittleEndian
	if len(dirs[dirExif]) > 0 {
		dirs[dirExif] = append(dirs[dirExif], entry{id: tagExifVersion, typ: typeUndefined, count: 4, data: []byte("0232")})
		dirs[dirImage] = append(dirs[dirImage], entry{id: tagExifPointer, typ: typeLong, count: 1, data: make([]byte, 4)})
	}
	if len(dirs[dirGPS]) > 0 {
		dirs[dirGPS] = append(dirs[dirGPS], entry{id: tagGPSVersion, typ: typeByte, count: 4, data: []byte{2, 3, 0, 0}})
		dirs[dirImage] = append(dirs[dirImage], entry{id: tagGPSPointer, typ: typeLong, count: 1, data: make([]byte, 4)})
	}

	var offsets [3]uint32
	offset := uint32(8)
	for i := range dirs {
		slices.SortFunc(dirs[i], func(a, b entry) int { return int(a.id) - int(b.id) })
		if i != int(dirImage) && len(dirs[i]) == 0 {
			continue
		}
		offsets[i] = offset
		offset += ifdSize(dirs[i])
	}
	for i, e := range dirs[dirImage] {
		switch e.id {
		case tagExifPointer:
			dirs[dirImage][i].data = le.AppendUint32(nil, offsets[dirExif])
		case tagGPSPointer:
			dirs[dirImage][i].data = le.AppendUint32(nil, offsets[dirGPS])
		}
	}

	out := []byte{'I', 'I', 42, 0}
	out = le.AppendUint32(out, 8)
	for i := range dirs {
		if i != int(dirImage) && len(dirs[i]) == 0 {
			continue
		}
		out = appendIFD(out, dirs[i], offsets[i])
	}
	return out
}

// ifdSize is the byte size of an IFD and its out-of-line values.
func ifdSize(d []entry) uint32 {
	n := uint32(2 + 12*len(d) + 4)
	for _, e := range d {
		if len(e.data) > 4 {
			n += padded(len(e.data))
		}
	}
	return n
}

func padded(n int) uint32 { return uint32(n + n%2) }

func appendIFD(out []byte, d []entry, at uint32) []byte {
	le := binary.LittleEndian
	out = le.AppendUint16(out, uint16(len(d)))
	valueAt := at + uint32(2+12*len(d)+4)
	var values []byte
	for _, e := range d {
		out = le.AppendUint16(out, e.id)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			out = append(out, inline...)
			continue
		}
		out = le.AppendUint32(out, valueAt+uint32(len(values)))
		values = append(values, e.data...)
		if len(e.data)%2 == 1 {
			values = append(values, 0)
		}
	}
	out = le.AppendUint32(out, 0) // no next IFD
	return append(out, values...)
}

var (
	_ core.MetadataProcessor = (*Processor)(nil)
	_ core.MetadataEmbedder  = (*Processor)(nil)
)
