package storage

import (
	"strconv"
	"testing"
)

func TestCodec_LargeSnapshotRoundTrip(t *testing.T) {
	const n = 131073
	snap := snapshot{Records: make([]record, n)}
	for i := range snap.Records {
		snap.Records[i] = record{Key: strconv.Itoa(i), Tags: []string{"t"}}
	}
	data, err := encodeFile(snap, CompressionNone)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	got, err := decodeFile(data)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	if len(got.Records) != n || got.Records[n-1].Key != strconv.Itoa(n-1) {
		t.Errorf("decoded %d records", len(got.Records))
	}
}

func TestCodec_WideAndDeepMetadata(t *testing.T) {
	wide := make(map[string]any, 131073)
	for i := range 131073 {
		wide[strconv.Itoa(i)] = int64(i)
	}
	deep := map[string]any{"leaf": "x"}
	for range 64 {
		deep = map[string]any{"child": deep}
	}

	for name, md := range map[string]map[string]any{"wide": wide, "deep": deep} {
		t.Run(name, func(t *testing.T) {
			raw, err := marshalMetadata(md)
			if err != nil {
				t.Fatalf("marshalMetadata: %v", err)
			}
			got, err := unmarshalMetadata(raw)
			if err != nil {
				t.Fatalf("unmarshalMetadata: %v", err)
			}
			if len(got) != len(md) {
				t.Errorf("decoded %d keys, want %d", len(got), len(md))
			}
		})
	}
}

func TestCodec_InvalidUTF8(t *testing.T) {
	snap := snapshot{Records: []record{{
		Key:      "k\xff",
		Metadata: map[string]any{"exif.camera.model": "Cam\xff\xfe", "bad\xfe": "v"},
		Tags:     []string{"t\xff"},
	}}}
	data, err := encodeFile(snap, CompressionZstd)
	if err != nil {
		t.Fatalf("encodeFile: %v", err)
	}
	got, err := decodeFile(data)
	if err != nil {
		t.Fatalf("decodeFile: %v", err)
	}
	r := got.Records[0]
	if r.Key != "k\xff" || r.Metadata["exif.camera.model"] != "Cam\xff\xfe" || r.Metadata["bad\xfe"] != "v" || r.Tags[0] != "t\xff" {
		t.Errorf("record = %+v", r)
	}
}
