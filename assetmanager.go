// Package assetmanager wires a core.Manager with the built-in processors and
// offers file helpers, configured pipelines and storage construction.
package assetmanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdmime "mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Skryldev/asset-manager/adapters/exif"
	"github.com/Skryldev/asset-manager/adapters/ffmpeg"
	"github.com/Skryldev/asset-manager/adapters/raster"
	"github.com/Skryldev/asset-manager/adapters/xmp"
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/hooks"
	"github.com/Skryldev/asset-manager/mime"
	"github.com/Skryldev/asset-manager/pipeline"
	"github.com/Skryldev/asset-manager/storage"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises New.
type Option func(*options)

type options struct {
	logger  core.Logger
	metrics core.MetricsCollector
	runner  ffmpeg.Runner
	images  core.Processor
	hooks   []core.Hook
}

// WithLogger attaches a structured logger.  The default discards everything.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics attaches a metrics collector.  Operator timings from pipelines
// built by NewPipeline are reported to it as well.
func WithMetrics(c core.MetricsCollector) Option { return func(o *options) { o.metrics = c } }

// WithFFmpegRunner replaces the process runner of the audio/video processor.
func WithFFmpegRunner(r ffmpeg.Runner) Option { return func(o *options) { o.runner = r } }

// WithImageProcessor replaces the pure-Go raster processor for every type p
// declares, e.g. with the libvips processor.
func WithImageProcessor(p core.Processor) Option { return func(o *options) { o.images = p } }

// WithHook adds an observer to every pipeline built by NewPipeline.
func WithHook(h core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h) } }

// Manager is a core.Manager with the built-in processors registered.
type Manager struct {
	*core.Manager
	cfg     config.Config
	logger  core.Logger
	metrics core.MetricsCollector
	hooks   []core.Hook
}

// New validates cfg and returns a Manager with these processors registered:
// raster images (or the WithImageProcessor replacement), ffmpeg audio and
// video, and the Exif, XMP and ffmetadata metadata processors.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "assetmanager.new", err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = core.NopLogger()
	}

	inner := core.NewManager(cfg)
	inner.SetLogger(o.logger)
	inner.SetMetrics(o.metrics)

	ff := ffmpeg.New(cfg.FFmpeg, cfg.Formats, o.runner)
	if err := inner.RegisterProcessor(raster.New(cfg.Formats)); err != nil {
		return nil, err
	}
	if err := inner.RegisterProcessor(ff); err != nil {
		return nil, err
	}
	if o.images != nil {
		for _, mt := range o.images.MimeTypes() {
			if err := inner.Replace(mt, o.images); err != nil {
				return nil, err
			}
		}
	}
	for _, mp := range []core.MetadataProcessor{exif.New(), xmp.New(), ffmpeg.NewMetadataProcessor(ff)} {
		if err := inner.RegisterMetadataProcessor(mp); err != nil {
			return nil, err
		}
	}

	m := &Manager{Manager: inner, cfg: cfg, logger: o.logger, metrics: o.metrics, hooks: o.hooks}
	if o.metrics != nil {
		m.hooks = append(m.hooks, hooks.NewMetricsHook(o.metrics))
	}
	o.logger.Info("assetmanager.ready", "mime_types", len(inner.MimeTypes()))
	return m, nil
}

// Logger returns the logger the manager was built with.
func (m *Manager) Logger() core.Logger { return m.logger }

// NewPipeline returns a pipeline of ops carrying the configured retry policy
// and hooks.
func (m *Manager) NewPipeline(ops ...*core.Operator) *pipeline.Pipeline {
	p := pipeline.New(ops...).WithRetry(m.cfg.MaxRetries, m.cfg.RetryDelay)
	for _, h := range m.hooks {
		p.AddHook(h)
	}
	return p
}

// Stats returns lightweight read/write statistics.
func (m *Manager) Stats() (reads, writes, errs int64) {
	return m.ReadCount(), m.WriteCount(), m.ErrorCount()
}

// ── File helpers ──────────────────────────────────────────────────────────────

// ReadFile reads the asset at path.  Content decides the MIME type; the file
// extension is consulted only when the content is ambiguous.
func (m *Manager) ReadFile(ctx context.Context, path string) (*core.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInput, "assetmanager.read_file", err)
	}
	a, err := m.Read(ctx, bytes.NewReader(data))
	if errors.Is(err, apperrors.ErrAmbiguousFormat) {
		if hint := extensionType(path); hint != mime.Unknown {
			m.logger.Debug("assetmanager.read_file.hint", "path", path, "hint", hint)
			return m.ReadAs(ctx, bytes.NewReader(data), hint)
		}
	}
	return a, err
}

// WriteFile serialises a to path.  The asset is written to a temporary file
// in the same directory and renamed over path, so a failed write leaves any
// existing file untouched.
func (m *Manager) WriteFile(ctx context.Context, a *core.Asset, path string) error {
	const op = "assetmanager.write_file"
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, op, err)
	}
	name := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(name)
		}
	}()

	if err := m.Write(ctx, a, tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, op, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, op, err)
	}
	if err := os.Rename(name, path); err != nil {
		return apperrors.Wrap(apperrors.CategoryInput, op, err)
	}
	success = true
	return nil
}

func extensionType(path string) mime.Type {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return mime.Unknown
	}
	mt, err := mime.Parse(stdmime.TypeByExtension(ext))
	if err != nil {
		return mime.Unknown
	}
	return mt
}

// ── Storage ───────────────────────────────────────────────────────────────────

// OpenStorage builds the backend selected by cfg.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, logger core.Logger) (storage.Storage[string], error) {
	switch cfg.Backend {
	case config.StorageMemory, "":
		return storage.NewMemory[string](), nil
	case config.StorageFile:
		return storage.OpenFile(cfg.Path, storage.FileOptions{Compression: cfg.Compression, Logger: logger})
	case config.StorageSQLite:
		return storage.OpenSQLite(ctx, cfg.Path, logger)
	}
	return nil, apperrors.New(apperrors.CategoryConfig, "assetmanager.open_storage",
		fmt.Errorf("%w: unknown storage backend %q", apperrors.ErrInvalidParameter, cfg.Backend))
}

// OpenStorage builds the backend selected by the manager's configuration.
func (m *Manager) OpenStorage(ctx context.Context) (storage.Storage[string], error) {
	return OpenStorage(ctx, m.cfg.Storage, m.logger)
}
