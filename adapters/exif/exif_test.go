package exif_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"reflect"
	"testing"

	"github.com/Skryldev/asset-manager/adapters/exif"
	"github.com/Skryldev/asset-manager/adapters/raster"
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func sample() core.Metadata {
	return core.Metadata{
		"exif.aperture":            2.8,
		"exif.artist":              "Jane Doe",
		"exif.camera.manufacturer": "Acme",
		"exif.camera.model":        "Snap 3000",
		"exif.datetime_original":   "2024-05-17T09:30:12",
		"exif.description":         "harbour at dawn",
		"exif.exposure_time":       0.004,
		"exif.fnumber":             2.8,
		"exif.focal_length":        35.0,
		"exif.focal_length_35mm":   int64(52),
		"exif.gps.altitude":        35.2,
		"exif.gps.altitude_ref":    "below",
		"exif.gps.date_stamp":      "2024-05-17",
		"exif.gps.latitude":        []any{52.0, 31.0, 12.5},
		"exif.gps.latitude_ref":    "north",
		"exif.gps.longitude":       []any{13.0, 24.0, 0.25},
		"exif.gps.longitude_ref":   "west",
		"exif.gps.map_datum":       "WGS-84",
		"exif.gps.speed":           12.0,
		"exif.gps.speed_ref":       "knots",
		"exif.gps.time_stamp":      "07:30:12",
		"exif.iso":                 int64(400),
		"exif.lens.manufacturer":   "Acme Optics",
		"exif.lens.model":          "35mm F2.8",
		"exif.orientation":         int64(6),
		"exif.software":            "asset-manager",
	}
}

func embed(t *testing.T, p *exif.Processor, essence []byte, md core.Metadata) []byte {
	t.Helper()
	ctx := context.Background()
	block, err := p.Write(ctx, md)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := p.Embed(ctx, essence, block)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	return out
}

func TestWriteEmbedRead_RoundTrip(t *testing.T) {
	p := exif.New()
	out := embed(t, p, jpegBytes(t, 8, 8), sample())

	got, err := p.Read(context.Background(), bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := sample()
	for k, v := range want {
		if !reflect.DeepEqual(got[k], v) {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("read %d keys, want %d", len(got), len(want))
	}

	// The essence must still decode as an image.
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Errorf("embedded JPEG no longer decodes: %v", err)
	}
}

func TestEmbed_ReplacesExistingBlock(t *testing.T) {
	p := exif.New()
	once := embed(t, p, jpegBytes(t, 4, 4), core.Metadata{"exif.artist": "first"})
	twice := embed(t, p, once, core.Metadata{"exif.artist": "second"})

	if n := bytes.Count(twice, []byte("Exif\x00\x00")); n != 1 {
		t.Fatalf("found %d Exif segments, want 1", n)
	}
	got, err := p.Read(context.Background(), bytes.NewReader(twice))
	if err != nil {
		t.Fatal(err)
	}
	if got["exif.artist"] != "second" {
		t.Errorf("artist = %v", got["exif.artist"])
	}
}

func TestStrip(t *testing.T) {
	p := exif.New()
	src := jpegBytes(t, 4, 4)
	stripped, err := p.Strip(context.Background(), embed(t, p, src, sample()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stripped, src) {
		t.Error("strip did not restore the original essence")
	}
	if _, err := p.Read(context.Background(), bytes.NewReader(stripped)); !errors.Is(err, apperrors.ErrNoMetadata) {
		t.Errorf("Read after strip = %v, want ErrNoMetadata", err)
	}
}

func TestRead_NotJPEG(t *testing.T) {
	_, err := exif.New().Read(context.Background(), bytes.NewReader([]byte("GIF89a....")))
	if err == nil || errors.Is(err, apperrors.ErrNoMetadata) {
		t.Errorf("err = %v, want input error", err)
	}
}

func TestWrite_DecimalDegrees(t *testing.T) {
	p := exif.New()
	out := embed(t, p, jpegBytes(t, 4, 4), core.Metadata{"exif.gps.latitude": 52.5})
	got, err := p.Read(context.Background(), bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	want := []any{52.0, 30.0, 0.0}
	if !reflect.DeepEqual(got["exif.gps.latitude"], want) {
		t.Errorf("latitude = %v, want %v", got["exif.gps.latitude"], want)
	}
}

func TestWrite_Rejects(t *testing.T) {
	tests := []struct {
		name string
		md   core.Metadata
	}{
		{"unknown key", core.Metadata{"exif.shoe_size": int64(9)}},
		{"string for short", core.Metadata{"exif.orientation": "six"}},
		{"short out of range", core.Metadata{"exif.iso": int64(70000)}},
		{"negative rational", core.Metadata{"exif.fnumber": -1.0}},
		{"bad ref", core.Metadata{"exif.gps.latitude_ref": "up"}},
		{"bad date", core.Metadata{"exif.datetime_original": "yesterday"}},
		{"short degree list", core.Metadata{"exif.gps.longitude": []any{1.0, 2.0}}},
		{"bad clock", core.Metadata{"exif.gps.time_stamp": "noon"}},
	}
	p := exif.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Write(context.Background(), tt.md)
			if !errors.Is(err, apperrors.ErrInvalidParameter) {
				t.Errorf("err = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestWrite_IgnoresForeignKeys(t *testing.T) {
	block, err := exif.New().Write(context.Background(), core.Metadata{"xmp.title": "x", core.KeyWidth: int64(3)})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(block, []byte("Exif\x00\x00II*\x00")) {
		t.Errorf("block header = %q", block[:min(len(block), 10)])
	}
}

func TestEmbed_RejectsForeignBlock(t *testing.T) {
	_, err := exif.New().Embed(context.Background(), jpegBytes(t, 2, 2), []byte("not exif"))
	if !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("err = %v", err)
	}
}

func TestManager_AutoOrientPersistsOrientation(t *testing.T) {
	ctx := context.Background()
	m := core.NewManager(config.Default())
	rp := raster.New(nil)
	if err := m.RegisterProcessor(rp); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterMetadataProcessor(exif.New()); err != nil {
		t.Fatal(err)
	}

	src := embed(t, exif.New(), jpegBytes(t, 6, 2), core.Metadata{
		"exif.orientation": int64(6),
		"exif.artist":      "Jane Doe",
	})
	a, err := m.Read(ctx, bytes.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := a.Metadata().Int("exif.orientation"); n != 6 {
		t.Fatalf("orientation = %d, want 6", n)
	}

	op, err := rp.AutoOrient()
	if err != nil {
		t.Fatal(err)
	}
	rotated, err := op.Apply(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := m.Write(ctx, rotated, &buf); err != nil {
		t.Fatal(err)
	}

	back, err := m.Read(ctx, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if back.Width() != 2 || back.Height() != 6 {
		t.Errorf("dims = %dx%d, want 2x6", back.Width(), back.Height())
	}
	md := back.Metadata()
	if n, _ := md.Int("exif.orientation"); n != 1 {
		t.Errorf("orientation = %d, want 1", n)
	}
	if md["exif.artist"] != "Jane Doe" {
		t.Errorf("artist = %v", md["exif.artist"])
	}
}

func TestManager_WriteStripsRemovedNamespace(t *testing.T) {
	ctx := context.Background()
	m := core.NewManager(config.Default())
	if err := m.RegisterProcessor(raster.New(nil)); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterMetadataProcessor(exif.New()); err != nil {
		t.Fatal(err)
	}
	src := embed(t, exif.New(), jpegBytes(t, 4, 4), core.Metadata{"exif.artist": "x"})
	a, err := m.Read(ctx, bytes.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := m.Write(ctx, a.WithoutMetadata(core.NamespaceExif), &buf); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(buf.Bytes(), []byte("Exif\x00\x00")) {
		t.Error("Exif segment survived a write without exif keys")
	}
}
