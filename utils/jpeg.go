package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// JPEG markers used by the segment helpers.
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
)

// maxSegmentPayload is the largest payload a length-prefixed segment holds.
const maxSegmentPayload = 0xFFFF - 2

var errNotJPEG = errors.New("not a JPEG stream")

type jpegSegment struct {
	marker     byte
	start, end int // whole segment including the marker bytes
	payload    []byte
}

// jpegHeaderSegments lists the segments before the start-of-scan marker.
func jpegHeaderSegments(data []byte) ([]jpegSegment, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, errNotJPEG
	}
	var segs []jpegSegment
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("jpeg: expected marker at offset %d", pos)
		}
		marker := data[pos+1]
		if marker == 0xFF { // fill byte
			pos++
			continue
		}
		if marker == markerSOS || marker == markerEOI {
			return segs, nil
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, fmt.Errorf("jpeg: truncated segment 0x%X at offset %d", marker, pos)
		}
		segs = append(segs, jpegSegment{marker: marker, start: pos, end: end, payload: data[pos+4 : end]})
		pos = end
	}
	return segs, nil
}

// JPEGAppSegment returns the payload of the first APP1 segment whose payload
// starts with prefix.  ok is false when there is none.
func JPEGAppSegment(data, prefix []byte) (payload []byte, ok bool, err error) {
	segs, err := jpegHeaderSegments(data)
	if err != nil {
		return nil, false, err
	}
	for _, s := range segs {
		if s.marker == markerAPP1 && bytes.HasPrefix(s.payload, prefix) {
			return CloneBytes(s.payload), true, nil
		}
	}
	return nil, false, nil
}

// ReplaceJPEGAppSegment removes every APP1 segment whose payload starts with
// prefix and, when payload is non-nil, inserts a single new one after SOI
// and any APP0 (JFIF) segment.  data is not modified.
func ReplaceJPEGAppSegment(data, prefix, payload []byte) ([]byte, error) {
	if len(payload) > maxSegmentPayload {
		return nil, fmt.Errorf("jpeg: segment payload of %d bytes exceeds %d", len(payload), maxSegmentPayload)
	}
	segs, err := jpegHeaderSegments(data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(data)+len(payload)+4)
	out = append(out, data[:2]...)
	insertAt := 2
	for _, s := range segs {
		if s.marker != markerAPP0 {
			break
		}
		insertAt = s.end
	}

	pos := 2
	inserted := payload == nil
	for _, s := range segs {
		if !inserted && s.start >= insertAt {
			out = appendSegment(out, payload)
			inserted = true
		}
		out = append(out, data[pos:s.start]...)
		pos = s.end
		if s.marker == markerAPP1 && bytes.HasPrefix(s.payload, prefix) {
			continue
		}
		out = append(out, data[s.start:s.end]...)
	}
	if !inserted {
		out = appendSegment(out, payload)
	}
	return append(out, data[pos:]...), nil
}

func appendSegment(out, payload []byte) []byte {
	out = append(out, 0xFF, markerAPP1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	return append(out, payload...)
}
