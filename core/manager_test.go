package core_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

type textProcessor struct {
	types []mime.Type
}

func (p *textProcessor) MimeTypes() []mime.Type { return p.types }

func (p *textProcessor) Read(_ context.Context, r io.Reader) (*core.Asset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return core.NewAsset(data, core.Metadata{
		core.KeyMimeType: string(p.types[0]),
		"derived.length": len(data),
	}), nil
}

func (p *textProcessor) Write(_ context.Context, a *core.Asset, w io.Writer) error {
	_, err := io.Copy(w, a.Essence())
	return err
}

func (p *textProcessor) Resize(width, height int, _ core.ResizeMode) (*core.Operator, error) {
	if err := core.ValidateDimensions("text.resize", width, height); err != nil {
		return nil, err
	}
	return appendOp("resized"), nil
}

// bracketMetadata stores "<format:key=value>" blocks after the essence.
type bracketMetadata struct {
	format string
	read   core.Metadata
	err    error
}

func (b *bracketMetadata) Format() string         { return b.format }
func (b *bracketMetadata) MimeTypes() []mime.Type { return []mime.Type{"text/plain"} }

func (b *bracketMetadata) Read(context.Context, io.Reader) (core.Metadata, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.read.Clone(), nil
}

func (b *bracketMetadata) Write(_ context.Context, md core.Metadata) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("<" + b.format)
	for k, v := range md {
		sb.WriteString(":" + k + "=")
		sb.WriteString(v.(string))
	}
	sb.WriteString(">")
	return []byte(sb.String()), nil
}

func (b *bracketMetadata) Combine(x, y core.Metadata) core.Metadata { return x.Merge(y) }

func (b *bracketMetadata) Embed(_ context.Context, essence, block []byte) ([]byte, error) {
	stripped, _ := b.Strip(context.Background(), essence)
	return append(stripped, block...), nil
}

func (b *bracketMetadata) Strip(_ context.Context, essence []byte) ([]byte, error) {
	if i := bytes.Index(essence, []byte("<"+b.format)); i >= 0 {
		return essence[:i], nil
	}
	return essence, nil
}

func newManager(t *testing.T) *core.Manager {
	t.Helper()
	m := core.NewManager(config.Default())
	if err := m.RegisterProcessor(&textProcessor{types: []mime.Type{"text/plain"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return m
}

// ── Registration ──────────────────────────────────────────────────────────────

func TestRegister_GetProcessor(t *testing.T) {
	m := core.NewManager(config.Default())
	p := &textProcessor{types: []mime.Type{"text/plain"}}
	if err := m.Register("text/plain", p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := m.Processor("text/plain")
	if err != nil || got != p {
		t.Fatalf("Processor = %v, %v", got, err)
	}
	if _, err := m.Processor(mime.PNG); !apperrors.IsUnsupportedFormat(err) {
		t.Errorf("unregistered type: %v", err)
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	m := newManager(t)
	other := &textProcessor{types: []mime.Type{"text/plain"}}

	err := m.Register("text/plain", other)
	if !apperrors.IsConfiguration(err) || !errors.Is(err, apperrors.ErrDuplicateRegistration) {
		t.Fatalf("duplicate: %v", err)
	}
	if err := m.Replace("text/plain", other); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got, _ := m.Processor("text/plain"); got != other {
		t.Error("Replace did not take effect")
	}
}

func TestRegisterProcessor_AllOrNothing(t *testing.T) {
	m := newManager(t)
	multi := &textProcessor{types: []mime.Type{"text/csv", "text/plain"}}
	if err := m.RegisterProcessor(multi); !apperrors.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := m.Processor("text/csv"); !apperrors.IsUnsupportedFormat(err) {
		t.Error("partial registration leaked text/csv")
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	m := core.NewManager(config.Default())
	if err := m.Register("not-a-type", &textProcessor{}); !apperrors.IsConfiguration(err) {
		t.Errorf("bad mime: %v", err)
	}
	if err := m.Register("text/plain", nil); !apperrors.IsConfiguration(err) {
		t.Errorf("nil processor: %v", err)
	}
}

func TestProcessor_WildcardFallback(t *testing.T) {
	m := core.NewManager(config.Default())
	generic := &textProcessor{types: []mime.Type{"text/*"}}
	exact := &textProcessor{types: []mime.Type{"text/csv"}}
	if err := m.Register("text/*", generic); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("text/csv", exact); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Processor("text/csv"); got != exact {
		t.Error("exact registration should win")
	}
	if got, _ := m.Processor("text/plain"); got != generic {
		t.Error("wildcard fallback not used")
	}
	if got := m.MimeTypes(); len(got) != 2 || got[0] != "text/*" || got[1] != "text/csv" {
		t.Errorf("MimeTypes = %v", got)
	}
}

func TestRegisterMetadata_KeyedByFormat(t *testing.T) {
	m := newManager(t)
	exif := &bracketMetadata{format: "exif"}
	xmp := &bracketMetadata{format: "xmp"}
	if err := m.RegisterMetadata("text/plain", exif); err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterMetadata("text/plain", xmp); err != nil {
		t.Fatalf("second format rejected: %v", err)
	}
	if err := m.RegisterMetadata("text/plain", &bracketMetadata{format: "exif"}); !apperrors.IsConfiguration(err) {
		t.Errorf("duplicate format: %v", err)
	}
	replacement := &bracketMetadata{format: "exif"}
	if err := m.ReplaceMetadata("text/plain", replacement); err != nil {
		t.Fatal(err)
	}
	got := m.MetadataProcessors("text/plain")
	if len(got) != 2 || got[0] != replacement || got[1] != xmp {
		t.Errorf("MetadataProcessors = %v", got)
	}
}

func TestCapability(t *testing.T) {
	m := newManager(t)
	r, err := core.Capability[core.Resizer](m, "text/plain")
	if err != nil {
		t.Fatalf("Capability: %v", err)
	}
	if _, err := r.Resize(0, 1, core.ResizeFit); !apperrors.IsConfiguration(err) {
		t.Errorf("eager validation: %v", err)
	}
	if _, err := core.Capability[core.Trimmer](m, "text/plain"); !apperrors.IsUnsupportedFormat(err) {
		t.Errorf("missing capability: %v", err)
	}
}

// ── Read / Write ──────────────────────────────────────────────────────────────

func TestReadAs_DispatchesOnStatedType(t *testing.T) {
	m := newManager(t)
	a, err := m.ReadAs(context.Background(), strings.NewReader("hello world"), "text/plain")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if a.MimeType() != "text/plain" {
		t.Errorf("MimeType = %q", a.MimeType())
	}
	if n, _ := a.Metadata().Int("derived.length"); n != 11 {
		t.Errorf("length = %d", n)
	}
	if m.ReadCount() != 1 {
		t.Errorf("ReadCount = %d", m.ReadCount())
	}
}

func TestRead_Failures(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	if _, err := m.Read(ctx, bytes.NewReader([]byte{0, 1, 2, 3, 4, 5})); !apperrors.IsFormatDetection(err) {
		t.Errorf("undetectable: %v", err)
	}
	// Plain text has no signature even with a text processor registered.
	if _, err := m.Read(ctx, strings.NewReader("hello world")); !errors.Is(err, apperrors.ErrUndetectableFormat) {
		t.Errorf("plain text: %v", err)
	}
	if _, err := m.Read(ctx, bytes.NewReader(nil)); !apperrors.IsFormatDetection(err) {
		t.Errorf("empty: %v", err)
	}
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	if _, err := m.Read(ctx, bytes.NewReader(png)); !apperrors.IsUnsupportedFormat(err) {
		t.Errorf("unregistered: %v", err)
	}
	ogg := append([]byte("OggS\x00\x02"), make([]byte, 40)...)
	if _, err := m.Read(ctx, bytes.NewReader(ogg)); !apperrors.IsFormatDetection(err) || !errors.Is(err, apperrors.ErrAmbiguousFormat) {
		t.Errorf("ambiguous: %v", err)
	}
	if m.ErrorCount() != 5 {
		t.Errorf("ErrorCount = %d", m.ErrorCount())
	}
}

func TestReadAs_HintResolvesAmbiguity(t *testing.T) {
	m := core.NewManager(config.Default())
	if err := m.RegisterProcessor(&textProcessor{types: []mime.Type{mime.OggAudio}}); err != nil {
		t.Fatal(err)
	}
	ogg := append([]byte("OggS\x00\x02"), make([]byte, 40)...)
	a, err := m.ReadAs(context.Background(), bytes.NewReader(ogg), mime.OggAudio)
	if err != nil {
		t.Fatalf("ReadAs: %v", err)
	}
	if a.MimeType() != mime.OggAudio {
		t.Errorf("MimeType = %q", a.MimeType())
	}
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR")
	if _, err := m.ReadAs(context.Background(), bytes.NewReader(png), mime.OggAudio); !errors.Is(err, apperrors.ErrContradictoryFormat) {
		t.Errorf("contradictory hint: %v", err)
	}
}

func TestReadAs_CanonicalisesHint(t *testing.T) {
	m := core.NewManager(config.Default())
	if err := m.RegisterProcessor(&textProcessor{types: []mime.Type{mime.JPEG}}); err != nil {
		t.Fatal(err)
	}
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	for _, hint := range []mime.Type{"image/jpg", "IMAGE/JPEG", "image/jpeg; q=0.9"} {
		t.Run(string(hint), func(t *testing.T) {
			a, err := m.ReadAs(context.Background(), bytes.NewReader(jpeg), hint)
			if err != nil {
				t.Fatalf("ReadAs: %v", err)
			}
			if a.MimeType() != mime.JPEG {
				t.Errorf("MimeType = %q", a.MimeType())
			}
		})
	}

	_, err := m.ReadAs(context.Background(), bytes.NewReader(jpeg), "jpeg")
	if !apperrors.IsConfiguration(err) || !errors.Is(err, apperrors.ErrInvalidParameter) {
		t.Errorf("malformed hint: %v", err)
	}
}

func TestRead_SizeLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxAssetBytes = 4
	m := core.NewManager(cfg)
	_ = m.RegisterProcessor(&textProcessor{types: []mime.Type{"text/plain"}})
	_, err := m.Read(context.Background(), strings.NewReader("too long"))
	if !errors.Is(err, apperrors.ErrInputTooLarge) {
		t.Errorf("got %v", err)
	}
}

func TestRead_CombinesMetadataProcessors(t *testing.T) {
	m := newManager(t)
	_ = m.RegisterMetadata("text/plain", &bracketMetadata{format: "exif", read: core.Metadata{"exif.iso": "100"}})
	_ = m.RegisterMetadata("text/plain", &bracketMetadata{format: "xmp", read: core.Metadata{"xmp.title": "t"}})
	_ = m.RegisterMetadata("text/plain", &bracketMetadata{format: "iptc", err: apperrors.ErrNoMetadata})

	a, err := m.ReadAs(context.Background(), strings.NewReader("hello"), "text/plain")
	if err != nil {
		t.Fatalf("ReadAs: %v", err)
	}
	md := a.Metadata()
	if md["exif.iso"] != "100" || md["xmp.title"] != "t" {
		t.Errorf("metadata = %v", md)
	}
	if a.MimeType() != "text/plain" {
		t.Error("processor metadata lost")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	m := newManager(t)
	a := core.NewAsset([]byte("payload"), core.Metadata{core.KeyMimeType: "text/plain"})
	var buf bytes.Buffer
	if err := m.Write(context.Background(), a, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	back, err := m.ReadAs(context.Background(), &buf, "text/plain")
	if err != nil {
		t.Fatalf("ReadAs: %v", err)
	}
	if string(back.Bytes()) != "payload" || back.MimeType() != "text/plain" {
		t.Errorf("round trip = %q %q", back.Bytes(), back.MimeType())
	}
}

func TestWrite_Failures(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	if err := m.Write(ctx, core.NewAsset([]byte("x"), nil), io.Discard); !apperrors.IsFormatDetection(err) {
		t.Errorf("missing mime: %v", err)
	}
	if err := m.Write(ctx, core.NewAsset([]byte("x"), core.Metadata{core.KeyMimeType: "image/png"}), io.Discard); !apperrors.IsUnsupportedFormat(err) {
		t.Errorf("unregistered: %v", err)
	}
	if err := m.Write(ctx, nil, io.Discard); !errors.Is(err, apperrors.ErrNilAsset) {
		t.Errorf("nil asset: %v", err)
	}
}

func TestWrite_EmbedsAndStripsMetadata(t *testing.T) {
	m := newManager(t)
	_ = m.RegisterMetadata("text/plain", &bracketMetadata{format: "exif"})
	ctx := context.Background()

	a := core.NewAsset([]byte("body<exif:old=1>"), core.Metadata{
		core.KeyMimeType: "text/plain",
		"exif.model":     "X100",
	})
	var buf bytes.Buffer
	if err := m.Write(ctx, a, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := buf.String(); got != "body<exif:exif.model=X100>" {
		t.Errorf("embedded = %q", got)
	}

	buf.Reset()
	if err := m.Write(ctx, a.WithoutMetadata(core.NamespaceExif), &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := buf.String(); got != "body" {
		t.Errorf("stripped = %q", got)
	}
}
