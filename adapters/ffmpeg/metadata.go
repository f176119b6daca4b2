package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// FormatName is the metadata namespace of container tags.
const FormatName = "ffmetadata"

// tagNames are the container tags exposed as ffmetadata.<name>.  ffmpeg maps
// these generic names onto ID3 frames and Vorbis comments itself.
var tagNames = []string{
	"album", "album_artist", "artist", "comment", "composer", "copyright",
	"date", "disc", "encoded_by", "encoder", "genre", "language", "lyrics",
	"performer", "publisher", "title", "track",
}

// MetadataProcessor reads and rewrites container tags of audio files.
type MetadataProcessor struct {
	proc *Processor
}

// NewMetadataProcessor shares p's tool paths and runner.
func NewMetadataProcessor(p *Processor) *MetadataProcessor {
	return &MetadataProcessor{proc: p}
}

func (m *MetadataProcessor) Format() string { return FormatName }

func (m *MetadataProcessor) MimeTypes() []mime.Type {
	return []mime.Type{mime.MPEGAudio, mime.OggAudio}
}

func (m *MetadataProcessor) Read(ctx context.Context, r io.Reader) (core.Metadata, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmetadata.read", err)
	}
	wd, err := newWorkdir(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmetadata.read", err)
	}
	defer wd.Close()

	pr, err := m.proc.probe(ctx, wd.input)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmetadata.read", err)
	}
	tags := pr.tags()
	md := core.Metadata{}
	for _, name := range tagNames {
		if v, ok := tags[name]; ok {
			md[FormatName+"."+name] = v
		}
	}
	if len(md) == 0 {
		return nil, apperrors.ErrNoMetadata
	}
	return md, nil
}

// Write renders md as an FFMETADATA1 file.  Keys outside the namespace are
// ignored.
func (m *MetadataProcessor) Write(_ context.Context, md core.Metadata) ([]byte, error) {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	prefix := FormatName + "."
	for _, k := range slices.Sorted(maps.Keys(md)) {
		name, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if !slices.Contains(tagNames, name) {
			return nil, apperrors.Newf(apperrors.CategoryInput, "ffmetadata.write", "%w: unknown tag %q", apperrors.ErrInvalidParameter, name)
		}
		fmt.Fprintf(&b, "%s=%s\n", name, escapeValue(fmt.Sprint(md[k])))
	}
	return []byte(b.String()), nil
}

func (m *MetadataProcessor) Combine(a, b core.Metadata) core.Metadata { return a.Merge(b) }

// Embed replaces the container tags of essence with block.
func (m *MetadataProcessor) Embed(ctx context.Context, essence, block []byte) ([]byte, error) {
	return m.remux(ctx, essence, block)
}

// Strip removes all container tags.
func (m *MetadataProcessor) Strip(ctx context.Context, essence []byte) ([]byte, error) {
	return m.remux(ctx, essence, nil)
}

func (m *MetadataProcessor) remux(ctx context.Context, essence, block []byte) ([]byte, error) {
	mt, err := mime.Detect(essence)
	if err != nil {
		return nil, err
	}
	muxer, ok := muxers[mt]
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "ffmetadata.embed", "%w: %s", apperrors.ErrUnsupportedFormat, mt)
	}
	wd, err := newWorkdir(essence)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "ffmetadata.embed", err)
	}
	defer wd.Close()

	args := []string{"-loglevel", "error", "-i", wd.input}
	if block == nil {
		args = append(args, "-map_metadata", "-1")
	} else {
		meta, err := wd.file("metadata.txt", block)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "ffmetadata.embed", err)
		}
		args = append(args, "-i", meta, "-map", "0", "-map_metadata", "1")
	}
	args = append(args, "-codec", "copy", "-f", muxer, "-y", wd.output)
	if _, err := m.proc.runner.Run(ctx, m.proc.cfg.FFmpegPath, args...); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "ffmetadata.embed", err)
	}
	return wd.result()
}

// escapeValue backslash-escapes the characters special to FFMETADATA1.
func escapeValue(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if strings.ContainsRune("=;#\\\n", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var (
	_ core.MetadataProcessor = (*MetadataProcessor)(nil)
	_ core.MetadataEmbedder  = (*MetadataProcessor)(nil)
)
