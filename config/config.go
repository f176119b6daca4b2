package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageBackend selects the AssetStorage implementation.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageFile   StorageBackend = "file"
	StorageSQLite StorageBackend = "sqlite"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Logging.
	LogLevel  string `yaml:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `yaml:"log_format"` // "text" or "json"

	// Streaming / memory limits.
	MaxAssetBytes int64 `yaml:"max_asset_bytes"` // 0 = no limit
	ChunkSize     int   `yaml:"chunk_size"`      // read chunk size in bytes; default 32 KiB

	// Retry of transient operator failures inside pipelines.
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	Storage StorageConfig `yaml:"storage"`
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg"`
	Vips    VipsConfig    `yaml:"vips"`

	// Formats holds per-MIME-type and per-codec options, e.g.
	// Formats["image/jpeg"]["quality"] or Formats["codec/libx264"]["crf"].
	Formats FormatOptions `yaml:"formats"`
}

// StorageConfig configures the AssetStorage backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`
	Path    string         `yaml:"path"` // file path or SQLite DSN
	// Compression of the persisted file backend: "none", "lz4" or "zstd".
	Compression string `yaml:"compression"`
}

// FFmpegConfig configures the external transcoding tool.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`
	Threads     int    `yaml:"threads"` // 0 = runtime.NumCPU()
}

// VipsConfig configures the libvips backend.
type VipsConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxCacheSize int  `yaml:"max_cache_size"`
	Concurrency  int  `yaml:"concurrency"`
	ReportLeaks  bool `yaml:"report_leaks"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		LogLevel:   "info",
		LogFormat:  "text",
		ChunkSize:  32 * 1024,
		MaxRetries: 0,
		RetryDelay: 200 * time.Millisecond,
		Storage: StorageConfig{
			Backend:     StorageMemory,
			Compression: "zstd",
		},
		FFmpeg: FFmpegConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Formats: DefaultFormats(),
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LogLevel %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown LogFormat %q", c.LogFormat)
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.MaxAssetBytes < 0 {
		return errors.New("config: MaxAssetBytes must not be negative")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: MaxRetries must not be negative")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("config: Storage.Path is required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config: unknown Storage.Backend %q", c.Storage.Backend)
	}
	switch c.Storage.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown Storage.Compression %q", c.Storage.Compression)
	}
	if c.FFmpeg.Threads < 0 {
		return errors.New("config: FFmpeg.Threads must not be negative")
	}
	return c.Formats.Validate()
}

// Load reads a YAML file and layers it over Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration layered over Default().  Format options
// are merged key by key, so overriding image/jpeg quality keeps the default
// progressive setting.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	defaults := cfg.Formats
	cfg.Formats = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg.Formats = defaults.Merge(cfg.Formats)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
