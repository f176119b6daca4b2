package core_test

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

func TestAsset_IsImmutable(t *testing.T) {
	essence := []byte("essence")
	md := core.Metadata{core.KeyMimeType: "text/plain", "derived.tags": []any{"a"}}
	a := core.NewAsset(essence, md)

	essence[0] = 'X'
	md[core.KeyMimeType] = "image/png"
	if a.MimeType() != "text/plain" {
		t.Error("constructor did not copy metadata")
	}
	if string(a.Bytes()) != "essence" {
		t.Error("constructor did not copy essence")
	}

	b := a.Bytes()
	b[0] = 'Y'
	got := a.Metadata()
	got["derived.tags"].([]any)[0] = "mutated"
	got["new"] = true
	if string(a.Bytes()) != "essence" {
		t.Error("Bytes exposes internal slice")
	}
	if v, _ := a.Get("derived.tags"); v.([]any)[0] != "a" {
		t.Error("Metadata exposes nested values")
	}
	if _, ok := a.Get("new"); ok {
		t.Error("Metadata exposes internal map")
	}
}

func TestAsset_EssenceIsRereadable(t *testing.T) {
	a := core.NewAsset([]byte("abc"), nil)
	for i := 0; i < 2; i++ {
		got, err := io.ReadAll(a.Essence())
		if err != nil || string(got) != "abc" {
			t.Fatalf("read %d: %q, %v", i, got, err)
		}
	}
}

func TestAsset_DerivedAccessors(t *testing.T) {
	a := core.NewAsset(nil, core.Metadata{
		core.KeyMimeType: mime.MP4,
		core.KeyWidth:    640,
		core.KeyHeight:   int32(480),
		core.KeyDuration: 12.5,
	})
	if a.MimeType() != mime.MP4 {
		t.Errorf("MimeType = %q", a.MimeType())
	}
	if a.Width() != 640 || a.Height() != 480 {
		t.Errorf("dims = %dx%d", a.Width(), a.Height())
	}
	if a.Duration() != 12.5 {
		t.Errorf("Duration = %v", a.Duration())
	}
	empty := core.NewAsset(nil, nil)
	if empty.Width() != 0 || empty.Duration() != 0 || empty.MimeType() != mime.Unknown {
		t.Error("empty asset should report zero values")
	}
}

func TestAsset_WithMetadataReturnsNewAsset(t *testing.T) {
	a := core.NewAsset([]byte("x"), core.Metadata{"exif.iso": 100, "xmp.title": "t"})
	b := a.WithMetadata(core.Metadata{"exif.iso": 200})
	if v, _ := a.Get("exif.iso"); v != int64(100) {
		t.Errorf("original changed: %v", v)
	}
	if v, _ := b.Get("exif.iso"); v != int64(200) {
		t.Errorf("merged value = %v", v)
	}
	c := b.WithoutMetadata(core.NamespaceExif)
	if _, ok := c.Get("exif.iso"); ok {
		t.Error("exif namespace not removed")
	}
	if _, ok := c.Get("xmp.title"); !ok {
		t.Error("other namespace removed")
	}
	if !a.Equal(core.NewAsset([]byte("x"), core.Metadata{"exif.iso": 100, "xmp.title": "t"})) {
		t.Error("Equal should compare by value")
	}
}

func TestNormalize(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	md := core.Normalize(core.Metadata{
		"int":      7,
		"uint8":    uint8(3),
		"float32":  float32(1.5),
		"time":     when,
		"mime":     mime.PNG,
		"strings":  []string{"a", "b"},
		"nested":   map[string]int{"x": 1},
		"bytes":    []byte{1, 2},
		"duration": 1500 * time.Millisecond,
	})
	want := core.Metadata{
		"int":      int64(7),
		"uint8":    int64(3),
		"float32":  1.5,
		"time":     "2024-05-01T12:00:00Z",
		"mime":     "image/png",
		"strings":  []any{"a", "b"},
		"nested":   map[string]any{"x": int64(1)},
		"bytes":    []byte{1, 2},
		"duration": 1.5,
	}
	for k, w := range want {
		g := md[k]
		if b, ok := w.([]byte); ok {
			if !bytes.Equal(g.([]byte), b) {
				t.Errorf("%s = %v, want %v", k, g, w)
			}
			continue
		}
		if !equalValue(g, w) {
			t.Errorf("%s = %#v, want %#v", k, g, w)
		}
	}
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k := range x {
			if !equalValue(x[k], y[k]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func TestMetadata_MergeSecondWins(t *testing.T) {
	a := core.Metadata{"k": 1, "only_a": true}
	b := core.Metadata{"k": 2, "only_b": true}
	m := a.Merge(b)
	if m["k"] != 2 || m["only_a"] != true || m["only_b"] != true {
		t.Errorf("Merge = %v", m)
	}
	if a["k"] != 1 {
		t.Error("Merge mutated receiver")
	}
}

func TestResizeMode_Dimensions(t *testing.T) {
	tests := []struct {
		mode         core.ResizeMode
		wantW, wantH int
	}{
		{core.ResizeExact, 100, 100},
		{core.ResizeFit, 100, 50},
		{core.ResizeFill, 200, 100},
	}
	for _, tc := range tests {
		t.Run(tc.mode.String(), func(t *testing.T) {
			w, h := tc.mode.Dimensions(400, 200, 100, 100)
			if w != tc.wantW || h != tc.wantH {
				t.Errorf("got %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
	if core.ResizeMode(7).Valid() {
		t.Error("out-of-range mode reported valid")
	}
}

func TestParseResizeMode(t *testing.T) {
	for in, want := range map[string]core.ResizeMode{"FIT": core.ResizeFit, "fill": core.ResizeFill, "exact": core.ResizeExact} {
		got, err := core.ParseResizeMode(in)
		if err != nil || got != want {
			t.Errorf("ParseResizeMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := core.ParseResizeMode("stretch"); !apperrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
