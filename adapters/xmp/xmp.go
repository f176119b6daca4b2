// Package xmp reads and writes XMP packets embedded in JPEG images.
package xmp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/utils"
)

// FormatName is the metadata namespace of XMP keys.
const FormatName = core.NamespaceXMP

// header prefixes the packet inside the APP1 segment.
var header = []byte("http://ns.adobe.com/xap/1.0/\x00")

const (
	nsRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsDC  = "http://purl.org/dc/elements/1.1/"
	nsXMP = "http://ns.adobe.com/xap/1.0/"
)

type kind int

const (
	kindText kind = iota // simple property
	kindAlt              // rdf:Alt, the x-default item
	kindSeq              // rdf:Seq, []any of strings
	kindBag              // rdf:Bag, []any of strings
	kindInt              // simple property, int64
)

type property struct {
	key   string
	space string
	local string
	kind  kind
}

var properties = []property{
	{"create_date", nsXMP, "CreateDate", kindText},
	{"creator", nsDC, "creator", kindSeq},
	{"creator_tool", nsXMP, "CreatorTool", kindText},
	{"description", nsDC, "description", kindAlt},
	{"keywords", nsDC, "subject", kindBag},
	{"rating", nsXMP, "Rating", kindInt},
	{"title", nsDC, "title", kindAlt},
}

func lookupName(n xml.Name) (property, bool) {
	for _, p := range properties {
		if p.space == n.Space && p.local == n.Local {
			return p, true
		}
	}
	return property{}, false
}

func lookupKey(key string) (property, bool) {
	for _, p := range properties {
		if p.key == key {
			return p, true
		}
	}
	return property{}, false
}

// Processor is a core.MetadataProcessor for XMP.
type Processor struct{}

func New() *Processor { return &Processor{} }

func (p *Processor) Format() string { return FormatName }

func (p *Processor) MimeTypes() []mime.Type { return []mime.Type{mime.JPEG} }

// Read extracts the XMP packet of a JPEG stream.  Extended XMP segments are
// not followed.
func (p *Processor) Read(_ context.Context, r io.Reader) (core.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "xmp.read", err)
	}
	payload, ok, err := utils.JPEGAppSegment(data, header)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "xmp.read", err)
	}
	if !ok {
		return nil, apperrors.ErrNoMetadata
	}
	md, err := parsePacket(payload[len(header):])
	return md, apperrors.Wrap(apperrors.CategoryInput, "xmp.read", err)
}

// Write renders the xmp.* keys of md as a standalone XMP packet.
func (p *Processor) Write(_ context.Context, md core.Metadata) ([]byte, error) {
	values := map[string]any{}
	prefix := FormatName + "."
	for k, v := range md {
		key, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if _, ok := lookupKey(key); !ok {
			return nil, apperrors.Newf(apperrors.CategoryInput, "xmp.write", "%w: unknown key %q", apperrors.ErrInvalidParameter, k)
		}
		values[key] = v
	}
	packet, err := renderPacket(values)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CategoryInput, "xmp.write", "%w: %v", apperrors.ErrInvalidParameter, err)
	}
	return packet, nil
}

func (p *Processor) Combine(a, b core.Metadata) core.Metadata { return a.Merge(b) }

// Embed replaces any XMP segment of a JPEG essence with packet.
func (p *Processor) Embed(_ context.Context, essence, packet []byte) ([]byte, error) {
	payload := append(utils.CloneBytes(header), packet...)
	out, err := utils.ReplaceJPEGAppSegment(essence, header, payload)
	return out, apperrors.Wrap(apperrors.CategoryInput, "xmp.embed", err)
}

// Strip removes every XMP segment.
func (p *Processor) Strip(_ context.Context, essence []byte) ([]byte, error) {
	out, err := utils.ReplaceJPEGAppSegment(essence, header, nil)
	return out, apperrors.Wrap(apperrors.CategoryInput, "xmp.strip", err)
}

// ── Parsing ───────────────────────────────────────────────────────────────────

// parsePacket walks the RDF tree.  Properties may appear as attributes of
// rdf:Description or as child elements holding text or an rdf container.
func parsePacket(data []byte) (core.Metadata, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	md := core.Metadata{}

	var (
		cur   *property
		items []string
		langs []string
		text  strings.Builder
		inLi  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return md, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse packet: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case cur == nil && t.Name.Space == nsRDF && t.Name.Local == "Description":
				for _, attr := range t.Attr {
					if prop, ok := lookupName(attr.Name); ok {
						store(md, prop, []string{attr.Value}, nil)
					}
				}
			case cur == nil:
				if prop, ok := lookupName(t.Name); ok {
					cur = &prop
					items, langs = nil, nil
					text.Reset()
				}
			case t.Name.Space == nsRDF && t.Name.Local == "li":
				inLi = true
				text.Reset()
				lang := ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "lang" {
						lang = attr.Value
					}
				}
				langs = append(langs, lang)
			}
		case xml.CharData:
			if cur != nil {
				text.Write(t)
			}
		case xml.EndElement:
			switch {
			case cur == nil:
			case inLi && t.Name.Space == nsRDF && t.Name.Local == "li":
				items = append(items, strings.TrimSpace(text.String()))
				inLi = false
				text.Reset()
			case t.Name.Space == cur.space && t.Name.Local == cur.local:
				if items == nil {
					if s := strings.TrimSpace(text.String()); s != "" {
						items = []string{s}
					}
				}
				store(md, *cur, items, langs)
				cur = nil
			}
		}
	}
}

func store(md core.Metadata, p property, items, langs []string) {
	if len(items) == 0 {
		return
	}
	key := FormatName + "." + p.key
	switch p.kind {
	case kindText:
		md[key] = items[0]
	case kindAlt:
		md[key] = items[0]
		for i, lang := range langs {
			if lang == "x-default" && i < len(items) {
				md[key] = items[i]
			}
		}
	case kindSeq, kindBag:
		list := make([]any, len(items))
		for i, s := range items {
			list[i] = s
		}
		md[key] = list
	case kindInt:
		if f, err := strconv.ParseFloat(items[0], 64); err == nil && f == math.Trunc(f) {
			md[key] = int64(f)
		}
	}
}

// ── Rendering ─────────────────────────────────────────────────────────────────

func renderPacket(values map[string]any) ([]byte, error) {
	var attrs, elems bytes.Buffer
	for _, key := range slices.Sorted(maps.Keys(values)) {
		prop, _ := lookupKey(key)
		qname := qualified(prop)
		v := values[key]
		switch prop.kind {
		case kindText:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string, got %T", key, v)
			}
			fmt.Fprintf(&attrs, "\n    %s=\"%s\"", qname, escape(s))
		case kindInt:
			n, ok := toInt(v)
			if !ok || n < -1 || n > 5 {
				return nil, fmt.Errorf("%s: expected integer in [-1, 5], got %v", key, v)
			}
			fmt.Fprintf(&attrs, "\n    %s=\"%d\"", qname, n)
		case kindAlt:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: expected string, got %T", key, v)
			}
			fmt.Fprintf(&elems, "   <%s><rdf:Alt><rdf:li xml:lang=\"x-default\">%s</rdf:li></rdf:Alt></%s>\n", qname, escape(s), qname)
		case kindSeq, kindBag:
			list, err := stringList(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			container := "rdf:Seq"
			if prop.kind == kindBag {
				container = "rdf:Bag"
			}
			fmt.Fprintf(&elems, "   <%s><%s>", qname, container)
			for _, s := range list {
				fmt.Fprintf(&elems, "<rdf:li>%s</rdf:li>", escape(s))
			}
			fmt.Fprintf(&elems, "</%s></%s>\n", container, qname)
		}
	}

	var b bytes.Buffer
	b.WriteString("<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n")
	b.WriteString("<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">\n")
	b.WriteString(" <rdf:RDF xmlns:rdf=\"" + nsRDF + "\">\n")
	b.WriteString("  <rdf:Description rdf:about=\"\"\n    xmlns:dc=\"" + nsDC + "\"\n    xmlns:xmp=\"" + nsXMP + "\"")
	b.Write(attrs.Bytes())
	b.WriteString(">\n")
	b.Write(elems.Bytes())
	b.WriteString("  </rdf:Description>\n </rdf:RDF>\n</x:xmpmeta>\n<?xpacket end=\"w\"?>")
	return b.Bytes(), nil
}

func qualified(p property) string {
	if p.space == nsDC {
		return "dc:" + p.local
	}
	return "xmp:" + p.local
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func stringList(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected list of strings, got element %T", e)
			}
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", v)
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

var (
	_ core.MetadataProcessor = (*Processor)(nil)
	_ core.MetadataEmbedder  = (*Processor)(nil)
)
