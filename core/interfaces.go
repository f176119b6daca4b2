package core

import (
	"context"
	"io"
	"time"

	"github.com/Skryldev/asset-manager/mime"
)

// Processor reads, writes and transforms the essence of the MIME types it
// declares.  Implementations live in adapters/.  Operator factories are
// exposed through the optional capability interfaces below.
type Processor interface {
	// MimeTypes lists the types the processor handles.
	MimeTypes() []mime.Type
	// Read decodes r into an Asset whose metadata carries at least mime_type.
	Read(ctx context.Context, r io.Reader) (*Asset, error)
	// Write serialises a to w.  w is owned by the caller and never closed.
	Write(ctx context.Context, a *Asset, w io.Writer) error
}

// MetadataProcessor parses and serialises one embedded metadata format.
// Keys it produces are prefixed with Format() + ".".
type MetadataProcessor interface {
	// Format is the namespace of the keys this processor owns ("exif").
	Format() string
	MimeTypes() []mime.Type
	// Read extracts the metadata block from an essence stream.  It returns
	// ErrNoMetadata when the essence carries no block of this format.
	Read(ctx context.Context, r io.Reader) (Metadata, error)
	// Write serialises md into a format-specific block.
	Write(ctx context.Context, md Metadata) ([]byte, error)
	// Combine merges two mappings; b wins on conflicts.
	Combine(a, b Metadata) Metadata
}

// MetadataEmbedder is implemented by metadata processors that can splice
// their block into, or remove it from, an encoded essence.
type MetadataEmbedder interface {
	Embed(ctx context.Context, essence, block []byte) ([]byte, error)
	Strip(ctx context.Context, essence []byte) ([]byte, error)
}

// ── Operator factories ────────────────────────────────────────────────────────
//
// Factories validate their parameters eagerly and return a configuration
// error before any Operator exists.

type Resizer interface {
	Resize(width, height int, mode ResizeMode) (*Operator, error)
}

type Converter interface {
	Convert(target mime.Type, opts ConvertOptions) (*Operator, error)
}

type Sharpener interface {
	// Sharpen applies an unsharp mask; amount is the strength (> 0).
	Sharpen(amount float64) (*Operator, error)
}

type Transposer interface {
	Transpose() (*Operator, error)
}

type Flipper interface {
	Flip(orientation FlipOrientation) (*Operator, error)
}

// AutoOrienter rotates an image so that its Exif orientation becomes 1.
type AutoOrienter interface {
	AutoOrient() (*Operator, error)
}

type Cropper interface {
	Crop(x, y, width, height int) (*Operator, error)
}

// Trimmer cuts a time range from audio or video.  A negative to counts from
// the end of the stream.
type Trimmer interface {
	Trim(from, to float64) (*Operator, error)
}

// FrameExtractor renders a single video frame as an image of type target.
type FrameExtractor interface {
	ExtractFrame(target mime.Type, seconds float64) (*Operator, error)
}

// ── Observability ─────────────────────────────────────────────────────────────

// MetricsCollector receives performance observations.
type MetricsCollector interface {
	RecordProcessingTime(name string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordMemory(bytes int64)
	RecordError(name string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around operator applications.
type Hook interface {
	BeforeOperator(ctx context.Context, name string, a *Asset)
	AfterOperator(ctx context.Context, name string, a *Asset, d time.Duration, err error)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

type nopMetrics struct{}

func (nopMetrics) RecordProcessingTime(string, interface{ Seconds() float64 }) {}
func (nopMetrics) RecordThroughput(int64)                                      {}
func (nopMetrics) RecordMemory(int64)                                          {}
func (nopMetrics) RecordError(string, string)                                  {}
