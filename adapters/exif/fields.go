package exif

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// directory identifies the IFD a tag lives in.
type directory int

const (
	dirImage directory = iota // IFD0
	dirExif
	dirGPS
)

// kind selects how a tag value maps to a metadata value.
type kind int

const (
	kindString   kind = iota // ASCII
	kindShort                // SHORT, int64
	kindByte                 // BYTE, through enum
	kindRational             // RATIONAL, float64
	kindDegrees              // 3 RATIONAL, []any{deg, min, sec}
	kindTime                 // 3 RATIONAL, "HH:MM:SS"
	kindDate                 // ASCII "YYYY:MM:DD", "YYYY-MM-DD"
	kindDateTime             // ASCII "YYYY:MM:DD HH:MM:SS", "YYYY-MM-DDTHH:MM:SS"
)

// TIFF field types.
const (
	typeByte      uint16 = 1
	typeASCII     uint16 = 2
	typeShort     uint16 = 3
	typeLong      uint16 = 4
	typeRational  uint16 = 5
	typeUndefined uint16 = 7
)

type field struct {
	key  string
	name goexif.FieldName
	id   uint16
	dir  directory
	kind kind
	// enum maps the raw tag value to the metadata value.
	enum map[string]string
}

var (
	latitudeRefs  = map[string]string{"N": "north", "S": "south"}
	longitudeRefs = map[string]string{"E": "east", "W": "west"}
	altitudeRefs  = map[string]string{"0": "above", "1": "below"}
	speedRefs     = map[string]string{"K": "km/h", "M": "mph", "N": "knots"}
)

// fields lists the supported tags in key order.
var fields = []field{
	{"aperture", goexif.ApertureValue, 0x9202, dirExif, kindRational, nil},
	{"artist", goexif.Artist, 0x013B, dirImage, kindString, nil},
	{"camera.manufacturer", goexif.Make, 0x010F, dirImage, kindString, nil},
	{"camera.model", goexif.Model, 0x0110, dirImage, kindString, nil},
	{"datetime_original", goexif.DateTimeOriginal, 0x9003, dirExif, kindDateTime, nil},
	{"description", goexif.ImageDescription, 0x010E, dirImage, kindString, nil},
	{"exposure_time", goexif.ExposureTime, 0x829A, dirExif, kindRational, nil},
	{"fnumber", goexif.FNumber, 0x829D, dirExif, kindRational, nil},
	{"focal_length", goexif.FocalLength, 0x920A, dirExif, kindRational, nil},
	{"focal_length_35mm", goexif.FocalLengthIn35mmFilm, 0xA405, dirExif, kindShort, nil},
	{"gps.altitude", goexif.GPSAltitude, 0x0006, dirGPS, kindRational, nil},
	{"gps.altitude_ref", goexif.GPSAltitudeRef, 0x0005, dirGPS, kindByte, altitudeRefs},
	{"gps.date_stamp", goexif.GPSDateStamp, 0x001D, dirGPS, kindDate, nil},
	{"gps.latitude", goexif.GPSLatitude, 0x0002, dirGPS, kindDegrees, nil},
	{"gps.latitude_ref", goexif.GPSLatitudeRef, 0x0001, dirGPS, kindString, latitudeRefs},
	{"gps.longitude", goexif.GPSLongitude, 0x0004, dirGPS, kindDegrees, nil},
	{"gps.longitude_ref", goexif.GPSLongitudeRef, 0x0003, dirGPS, kindString, longitudeRefs},
	{"gps.map_datum", goexif.GPSMapDatum, 0x0012, dirGPS, kindString, nil},
	{"gps.speed", goexif.GPSSpeed, 0x000D, dirGPS, kindRational, nil},
	{"gps.speed_ref", goexif.GPSSpeedRef, 0x000C, dirGPS, kindString, speedRefs},
	{"gps.time_stamp", goexif.GPSTimeStamp, 0x0007, dirGPS, kindTime, nil},
	{"iso", goexif.ISOSpeedRatings, 0x8827, dirExif, kindShort, nil},
	{"lens.manufacturer", goexif.LensMake, 0xA433, dirExif, kindString, nil},
	{"lens.model", goexif.LensModel, 0xA434, dirExif, kindString, nil},
	{"orientation", goexif.Orientation, 0x0112, dirImage, kindShort, nil},
	{"software", goexif.Software, 0x0131, dirImage, kindString, nil},
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

const (
	exifDateTime = "2006:01:02 15:04:05"
	isoDateTime  = "2006-01-02T15:04:05"
	exifDate     = "2006:01:02"
	isoDate      = "2006-01-02"
)

// ── Decoding ──────────────────────────────────────────────────────────────────

// decode converts tag into a metadata value.  ok is false for values of the
// wrong type or with a zero denominator.
func (f field) decode(tag *tiff.Tag) (any, bool) {
	switch f.kind {
	case kindString, kindDate, kindDateTime:
		s, err := tag.StringVal()
		if err != nil {
			return nil, false
		}
		s = strings.TrimSpace(s)
		switch {
		case f.enum != nil:
			v, ok := f.enum[s]
			return v, ok
		case f.kind == kindDate:
			return reformat(s, exifDate, isoDate)
		case f.kind == kindDateTime:
			return reformat(s, exifDateTime, isoDateTime)
		}
		return s, true

	case kindShort, kindByte:
		n, err := tag.Int64(0)
		if err != nil {
			return nil, false
		}
		if f.enum != nil {
			v, ok := f.enum[strconv.FormatInt(n, 10)]
			return v, ok
		}
		return n, true

	case kindRational:
		return rational(tag, 0)

	case kindDegrees, kindTime:
		if tag.Count < 3 {
			return nil, false
		}
		parts := make([]float64, 3)
		for i := range parts {
			v, ok := rational(tag, i)
			if !ok {
				return nil, false
			}
			parts[i] = v
		}
		if f.kind == kindTime {
			return fmt.Sprintf("%02d:%02d:%s", int(parts[0]), int(parts[1]), formatSeconds(parts[2])), true
		}
		return []any{parts[0], parts[1], parts[2]}, true
	}
	return nil, false
}

func rational(tag *tiff.Tag, i int) (float64, bool) {
	num, den, err := tag.Rat2(i)
	if err != nil || den == 0 {
		return 0, false
	}
	return float64(num) / float64(den), true
}

func reformat(s, from, to string) (any, bool) {
	t, err := time.Parse(from, s)
	if err != nil {
		return nil, false
	}
	return t.Format(to), true
}

func formatSeconds(s float64) string {
	if s == math.Trunc(s) {
		return fmt.Sprintf("%02d", int(s))
	}
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// ── Encoding ──────────────────────────────────────────────────────────────────

// entry is one IFD entry ready for serialisation.
type entry struct {
	id    uint16
	typ   uint16
	count uint32
	data  []byte
}

// encode converts a metadata value into an IFD entry.
func (f field) encode(v any) (entry, error) {
	e := entry{id: f.id}
	switch f.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return e, fmt.Errorf("expected string, got %T", v)
		}
		if f.enum != nil {
			raw, ok := reverse(f.enum, s)
			if !ok {
				return e, fmt.Errorf("unknown value %q", s)
			}
			s = raw
		}
		return asciiEntry(f.id, s), nil

	case kindDate, kindDateTime:
		s, ok := v.(string)
		if !ok {
			return e, fmt.Errorf("expected string, got %T", v)
		}
		from, to := isoDate, exifDate
		if f.kind == kindDateTime {
			from, to = isoDateTime, exifDateTime
		}
		t, err := time.Parse(from, s)
		if err != nil {
			return e, err
		}
		return asciiEntry(f.id, t.Format(to)), nil

	case kindShort:
		n, ok := toInt(v)
		if !ok || n < 0 || n > math.MaxUint16 {
			return e, fmt.Errorf("expected integer in [0, 65535], got %v", v)
		}
		e.typ, e.count = typeShort, 1
		e.data = binary.LittleEndian.AppendUint16(nil, uint16(n))
		return e, nil

	case kindByte:
		s, ok := v.(string)
		raw, found := reverse(f.enum, s)
		if !ok || !found {
			return e, fmt.Errorf("unknown value %v", v)
		}
		n, _ := strconv.Atoi(raw)
		e.typ, e.count, e.data = typeByte, 1, []byte{byte(n)}
		return e, nil

	case kindRational:
		x, ok := toFloat(v)
		if !ok || x < 0 {
			return e, fmt.Errorf("expected non-negative number, got %v", v)
		}
		e.typ, e.count, e.data = typeRational, 1, appendRational(nil, x)
		return e, nil

	case kindDegrees:
		parts, err := degrees(v)
		if err != nil {
			return e, err
		}
		return rationals(f.id, parts), nil

	case kindTime:
		s, ok := v.(string)
		if !ok {
			return e, fmt.Errorf("expected HH:MM:SS, got %T", v)
		}
		parts, err := clock(s)
		if err != nil {
			return e, err
		}
		return rationals(f.id, parts), nil
	}
	return e, fmt.Errorf("unsupported tag kind %d", f.kind)
}

func asciiEntry(id uint16, s string) entry {
	data := append([]byte(s), 0)
	return entry{id: id, typ: typeASCII, count: uint32(len(data)), data: data}
}

func rationals(id uint16, parts []float64) entry {
	var data []byte
	for _, p := range parts {
		data = appendRational(data, p)
	}
	return entry{id: id, typ: typeRational, count: uint32(len(parts)), data: data}
}

func reverse(enum map[string]string, value string) (string, bool) {
	for raw, v := range enum {
		if v == value {
			return raw, true
		}
	}
	return "", false
}

// degrees accepts [deg, min, sec] or a decimal degree count.
func degrees(v any) ([]float64, error) {
	if x, ok := toFloat(v); ok {
		x = math.Abs(x)
		d := math.Floor(x)
		m := math.Floor((x - d) * 60)
		s := ((x-d)*60 - m) * 60
		return []float64{d, m, s}, nil
	}
	seq, ok := v.([]any)
	if !ok || len(seq) != 3 {
		return nil, fmt.Errorf("expected [deg, min, sec], got %v", v)
	}
	out := make([]float64, 3)
	for i, e := range seq {
		x, ok := toFloat(e)
		if !ok || x < 0 {
			return nil, fmt.Errorf("expected non-negative number, got %v", e)
		}
		out[i] = x
	}
	return out, nil
}

func clock(s string) ([]float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected HH:MM:SS, got %q", s)
	}
	out := make([]float64, 3)
	for i, p := range parts {
		x, err := strconv.ParseFloat(p, 64)
		if err != nil || x < 0 {
			return nil, fmt.Errorf("expected HH:MM:SS, got %q", s)
		}
		out[i] = x
	}
	return out, nil
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
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

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// appendRational appends x as the closest unsigned fraction whose
// denominator does not exceed one million.
func appendRational(b []byte, x float64) []byte {
	num, den := toRational(x)
	b = binary.LittleEndian.AppendUint32(b, num)
	return binary.LittleEndian.AppendUint32(b, den)
}

func toRational(x float64) (uint32, uint32) {
	const maxDen = 1_000_000
	if x <= 0 || math.IsNaN(x) {
		return 0, 1
	}
	if x >= math.MaxUint32 {
		return math.MaxUint32, 1
	}
	// continued-fraction convergents
	p0, q0, p1, q1 := uint64(0), uint64(1), uint64(1), uint64(0)
	r := x
	for {
		a := uint64(r)
		p2, q2 := a*p1+p0, a*q1+q0
		if q2 > maxDen || p2 > math.MaxUint32 {
			break
		}
		p0, q0, p1, q1 = p1, q1, p2, q2
		frac := r - float64(a)
		if frac < 1e-12 {
			break
		}
		r = 1 / frac
	}
	if q1 == 0 {
		return uint32(x), 1
	}
	return uint32(p1), uint32(q1)
}
