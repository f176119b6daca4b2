package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/asset-manager/config"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/utils"
)

// ── Manager ───────────────────────────────────────────────────────────────────

// Manager holds the MIME type → processor associations and dispatches reads
// and writes to them.  It is safe for concurrent use.
type Manager struct {
	cfg config.Config

	mu         sync.RWMutex
	processors map[mime.Type]Processor
	metadata   map[mime.Type][]MetadataProcessor // registration order

	logger  Logger
	metrics MetricsCollector

	// Atomic counters for lightweight internal metrics.
	readCount  int64
	writeCount int64
	errorCount int64
}

// NewManager returns an empty Manager.
func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cfg:        cfg,
		processors: make(map[mime.Type]Processor),
		metadata:   make(map[mime.Type][]MetadataProcessor),
		logger:     NopLogger(),
		metrics:    nopMetrics{},
	}
}

// SetLogger attaches a structured logger.
func (m *Manager) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger()
	}
	m.logger = l
}

// SetMetrics attaches a metrics collector.
func (m *Manager) SetMetrics(c MetricsCollector) {
	if c == nil {
		c = nopMetrics{}
	}
	m.metrics = c
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() config.Config { return m.cfg }

// ── Registration ──────────────────────────────────────────────────────────────

// Register associates p with mt.  Registering a type that already has a
// processor fails with a configuration error; use Replace to override.
func (m *Manager) Register(mt mime.Type, p Processor) error {
	return m.register(mt, p, false)
}

// Replace associates p with mt, overriding any previous processor.
func (m *Manager) Replace(mt mime.Type, p Processor) error {
	return m.register(mt, p, true)
}

// RegisterProcessor registers p for every type it declares.  Nothing is
// registered when any of them is taken.
func (m *Manager) RegisterProcessor(p Processor) error {
	if p == nil {
		return apperrors.New(apperrors.CategoryConfig, "manager.register", apperrors.ErrInvalidParameter)
	}
	types, err := canonical(p.MimeTypes())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mt := range types {
		if _, taken := m.processors[mt]; taken {
			return apperrors.Newf(apperrors.CategoryConfig, "manager.register", "%w: %s", apperrors.ErrDuplicateRegistration, mt)
		}
	}
	for _, mt := range types {
		m.processors[mt] = p
	}
	m.logger.Debug("manager.register", "mime_types", types)
	return nil
}

func (m *Manager) register(mt mime.Type, p Processor, replace bool) error {
	if p == nil {
		return apperrors.New(apperrors.CategoryConfig, "manager.register", apperrors.ErrInvalidParameter)
	}
	mt, err := mime.Parse(string(mt))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.processors[mt]; taken && !replace {
		return apperrors.Newf(apperrors.CategoryConfig, "manager.register", "%w: %s", apperrors.ErrDuplicateRegistration, mt)
	}
	m.processors[mt] = p
	m.logger.Debug("manager.register", "mime_type", mt, "replace", replace)
	return nil
}

// RegisterMetadata associates mp with mt.  Several metadata processors may
// describe one type as long as their formats differ.
func (m *Manager) RegisterMetadata(mt mime.Type, mp MetadataProcessor) error {
	return m.registerMetadata(mt, mp, false)
}

// ReplaceMetadata associates mp with mt, overriding a previous processor of
// the same format.
func (m *Manager) ReplaceMetadata(mt mime.Type, mp MetadataProcessor) error {
	return m.registerMetadata(mt, mp, true)
}

// RegisterMetadataProcessor registers mp for every type it declares.
func (m *Manager) RegisterMetadataProcessor(mp MetadataProcessor) error {
	if mp == nil {
		return apperrors.New(apperrors.CategoryConfig, "manager.register_metadata", apperrors.ErrInvalidParameter)
	}
	types, err := canonical(mp.MimeTypes())
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mt := range types {
		if m.metadataIndex(mt, mp.Format()) >= 0 {
			return apperrors.Newf(apperrors.CategoryConfig, "manager.register_metadata",
				"%w: %s metadata for %s", apperrors.ErrDuplicateRegistration, mp.Format(), mt)
		}
	}
	for _, mt := range types {
		m.metadata[mt] = append(m.metadata[mt], mp)
	}
	return nil
}

func (m *Manager) registerMetadata(mt mime.Type, mp MetadataProcessor, replace bool) error {
	if mp == nil {
		return apperrors.New(apperrors.CategoryConfig, "manager.register_metadata", apperrors.ErrInvalidParameter)
	}
	mt, err := mime.Parse(string(mt))
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.metadataIndex(mt, mp.Format()); i >= 0 {
		if !replace {
			return apperrors.Newf(apperrors.CategoryConfig, "manager.register_metadata",
				"%w: %s metadata for %s", apperrors.ErrDuplicateRegistration, mp.Format(), mt)
		}
		m.metadata[mt][i] = mp
		return nil
	}
	m.metadata[mt] = append(m.metadata[mt], mp)
	return nil
}

// metadataIndex must be called with mu held.
func (m *Manager) metadataIndex(mt mime.Type, format string) int {
	for i, mp := range m.metadata[mt] {
		if mp.Format() == format {
			return i
		}
	}
	return -1
}

func canonical(types []mime.Type) ([]mime.Type, error) {
	out := make([]mime.Type, 0, len(types))
	for _, t := range types {
		mt, err := mime.Parse(string(t))
		if err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, nil
}

// ── Lookup ────────────────────────────────────────────────────────────────────

// Processor returns the processor registered for mt.  An exact registration
// wins over a category wildcard ("image/*").
func (m *Manager) Processor(mt mime.Type) (Processor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.processors[mt]; ok {
		return p, nil
	}
	if p, ok := m.processors[mt.Wildcard()]; ok && mt != mime.Unknown {
		return p, nil
	}
	return nil, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "manager.processor", "%w: %s", apperrors.ErrUnsupportedFormat, mt)
}

// MetadataProcessors lists the metadata processors registered for mt in
// registration order.
func (m *Manager) MetadataProcessors(mt mime.Type) []MetadataProcessor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.metadata[mt])
}

// MimeTypes lists every type with a registered processor, sorted.
func (m *Manager) MimeTypes() []mime.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]mime.Type, 0, len(m.processors))
	for mt := range m.processors {
		out = append(out, mt)
	}
	slices.Sort(out)
	return out
}

// Capability returns the processor for mt as the capability T, e.g.
// Capability[Resizer](m, mime.PNG).  It fails with an unsupported-format
// error when no processor is registered or it lacks the capability.
func Capability[T any](m *Manager, mt mime.Type) (T, error) {
	var zero T
	p, err := m.Processor(mt)
	if err != nil {
		return zero, err
	}
	c, ok := p.(T)
	if !ok {
		return zero, apperrors.Newf(apperrors.CategoryUnsupportedFormat, "manager.capability",
			"%w: %s processor has no %T capability", apperrors.ErrUnsupportedFormat, mt, (*T)(nil))
	}
	return c, nil
}

// ── Read / Write ──────────────────────────────────────────────────────────────

// Read drains r, detects its MIME type from content and delegates to the
// registered processor.  Metadata blocks of every metadata processor for the
// type are merged into the result.  r is not closed.
func (m *Manager) Read(ctx context.Context, r io.Reader) (*Asset, error) {
	return m.read(ctx, r, mime.Unknown)
}

// ReadAs is Read with a caller-stated MIME type.  The hint is canonicalised
// first ("image/jpg" is image/jpeg) and settles ambiguous or unrecognisable
// content; a hint contradicting a conclusive sniff is a format-detection
// error, and a malformed hint is a configuration error.
func (m *Manager) ReadAs(ctx context.Context, r io.Reader, hint mime.Type) (*Asset, error) {
	return m.read(ctx, r, hint)
}

func (m *Manager) read(ctx context.Context, r io.Reader, hint mime.Type) (*Asset, error) {
	start := time.Now()
	a, err := m.doRead(ctx, r, hint)
	m.metrics.RecordProcessingTime("read", time.Since(start))
	if err != nil {
		atomic.AddInt64(&m.errorCount, 1)
		m.metrics.RecordError("read", string(apperrors.CategoryOf(err)))
		return nil, err
	}
	atomic.AddInt64(&m.readCount, 1)
	m.metrics.RecordThroughput(a.Size())
	return a, nil
}

func (m *Manager) doRead(ctx context.Context, r io.Reader, hint mime.Type) (*Asset, error) {
	if r == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "manager.read", apperrors.ErrEmptyInput)
	}
	if hint != mime.Unknown {
		canonical, err := mime.Parse(string(hint))
		if err != nil {
			return nil, err
		}
		hint = canonical
	}

	// --- 1. Drain source into memory (respecting max size limit) -------------
	data, err := utils.ReadAll(ctx, r, m.cfg.MaxAssetBytes, m.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "manager.read", err)
	}
	m.metrics.RecordMemory(int64(len(data)))

	// --- 2. Detect format ----------------------------------------------------
	mt, err := mime.DetectWithHint(data, hint)
	if err != nil {
		return nil, err
	}

	// --- 3. Dispatch ---------------------------------------------------------
	p, err := m.Processor(mt)
	if err != nil {
		return nil, err
	}
	a, err := p.Read(ctx, bytes.NewReader(data))
	if err != nil {
		if apperrors.CategoryOf(err) == "" {
			err = apperrors.Wrap(apperrors.CategoryInput, "manager.read", err)
		}
		return nil, err
	}
	if a.MimeType() == mime.Unknown {
		a = a.WithMetadata(Metadata{KeyMimeType: string(mt)})
	}

	// --- 4. Embedded metadata ------------------------------------------------
	var combined Metadata
	for _, mp := range m.MetadataProcessors(a.MimeType()) {
		md, err := mp.Read(ctx, bytes.NewReader(data))
		switch {
		case errors.Is(err, apperrors.ErrNoMetadata):
			m.logger.Debug("manager.read.metadata.absent", "format", mp.Format(), "mime_type", a.MimeType())
			continue
		case err != nil:
			m.logger.Warn("manager.read.metadata.error", "format", mp.Format(), "mime_type", a.MimeType(), "error", err.Error())
			m.metrics.RecordError("read."+mp.Format(), string(apperrors.CategoryOf(err)))
			continue
		}
		if combined == nil {
			combined = md
		} else {
			combined = mp.Combine(combined, md)
		}
	}
	if len(combined) > 0 {
		a = a.WithMetadata(combined)
	}

	m.logger.Debug("manager.read", "mime_type", a.MimeType(), "bytes", len(data))
	return a, nil
}

// Write dispatches on the asset's mime_type and writes the encoded essence
// to w.  Metadata processors that can embed their block splice the asset's
// metadata of their namespace back into the essence; a namespace without
// keys is stripped.  w is not closed.
func (m *Manager) Write(ctx context.Context, a *Asset, w io.Writer) error {
	start := time.Now()
	err := m.doWrite(ctx, a, w)
	m.metrics.RecordProcessingTime("write", time.Since(start))
	if err != nil {
		atomic.AddInt64(&m.errorCount, 1)
		m.metrics.RecordError("write", string(apperrors.CategoryOf(err)))
		return err
	}
	atomic.AddInt64(&m.writeCount, 1)
	return nil
}

func (m *Manager) doWrite(ctx context.Context, a *Asset, w io.Writer) error {
	if a == nil {
		return apperrors.New(apperrors.CategoryInput, "manager.write", apperrors.ErrNilAsset)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, "manager.write", err)
	}
	mt := a.MimeType()
	if mt == mime.Unknown {
		return apperrors.New(apperrors.CategoryFormatDetection, "manager.write", apperrors.ErrUndetectableFormat)
	}
	p, err := m.Processor(mt)
	if err != nil {
		return err
	}

	var embedders []MetadataProcessor
	for _, mp := range m.MetadataProcessors(mt) {
		if _, ok := mp.(MetadataEmbedder); ok {
			embedders = append(embedders, mp)
		}
	}
	sink := &utils.ChunkedWriter{W: w, ChunkSize: m.cfg.ChunkSize}
	if len(embedders) == 0 {
		return wrapWrite(p.Write(ctx, a, sink))
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := p.Write(ctx, a, buf); err != nil {
		return wrapWrite(err)
	}
	essence := utils.CloneBytes(buf.Bytes())
	md := a.Metadata()
	for _, mp := range embedders {
		emb := mp.(MetadataEmbedder)
		ns := md.Namespace(mp.Format())
		if len(ns) == 0 {
			essence, err = emb.Strip(ctx, essence)
		} else {
			var block []byte
			block, err = mp.Write(ctx, ns)
			if err == nil {
				essence, err = emb.Embed(ctx, essence, block)
			}
		}
		if err != nil {
			return wrapWrite(err)
		}
	}
	_, err = sink.Write(essence)
	return wrapWrite(err)
}

func wrapWrite(err error) error {
	if err == nil || apperrors.CategoryOf(err) != "" {
		return err
	}
	return apperrors.Wrap(apperrors.CategoryInput, "manager.write", err)
}

// ReadCount returns the number of successful reads.
func (m *Manager) ReadCount() int64 { return atomic.LoadInt64(&m.readCount) }

// WriteCount returns the number of successful writes.
func (m *Manager) WriteCount() int64 { return atomic.LoadInt64(&m.writeCount) }

// ErrorCount returns the number of failed reads and writes.
func (m *Manager) ErrorCount() int64 { return atomic.LoadInt64(&m.errorCount) }
