package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Skryldev/asset-manager/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultFormats(t *testing.T) {
	f := config.DefaultFormats()
	tests := []struct {
		key, option string
		want        int
	}{
		{"image/jpeg", "quality", 80},
		{"image/webp", "method", 6},
		{"image/webp", "quality", 80},
		{config.CodecKey("libx264"), "crf", 23},
		{config.CodecKey("libx265"), "crf", 28},
		{config.CodecKey("libvpx"), "crf", 10},
		{config.CodecKey("libvpx-vp9"), "crf", 32},
	}
	for _, tc := range tests {
		if got := f.Int(tc.key, tc.option, -1); got != tc.want {
			t.Errorf("%s.%s = %d, want %d", tc.key, tc.option, got, tc.want)
		}
	}
	if !f.Bool("image/jpeg", "progressive", false) {
		t.Error("jpeg progressive should default to true")
	}
	if !f.Bool("video/quicktime", "faststart", false) {
		t.Error("quicktime faststart should default to true")
	}
	if got := f.String("image/png", "zopfliStrategies", ""); got != "0me" {
		t.Errorf("png zopfliStrategies = %q, want 0me", got)
	}
}

func TestCategoryLookup(t *testing.T) {
	f := config.FormatOptions{
		"image/*":   {"quality": 70},
		"image/png": {"quality": 95},
	}
	if got := f.Int("image/png", "quality", 0); got != 95 {
		t.Errorf("exact key: got %d, want 95", got)
	}
	if got := f.Int("image/gif", "quality", 0); got != 70 {
		t.Errorf("category fallback: got %d, want 70", got)
	}
	if got := f.Int("audio/wav", "quality", 5); got != 5 {
		t.Errorf("fallback: got %d, want 5", got)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"jpeg quality above range", func(c *config.Config) { c.Formats["image/jpeg"]["quality"] = 101 }},
		{"webp method above range", func(c *config.Config) { c.Formats["image/webp"]["method"] = 7 }},
		{"progressive not bool", func(c *config.Config) { c.Formats["image/jpeg"]["progressive"] = "yes" }},
		{"crf not int", func(c *config.Config) { c.Formats["codec/libx264"]["crf"] = "high" }},
		{"unknown log level", func(c *config.Config) { c.LogLevel = "loud" }},
		{"zero chunk size", func(c *config.Config) { c.ChunkSize = 0 }},
		{"file backend without path", func(c *config.Config) { c.Storage.Backend = config.StorageFile }},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "tape" }},
		{"unknown compression", func(c *config.Config) { c.Storage.Compression = "brotli" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParse_LayersOverDefaults(t *testing.T) {
	data := []byte(`
log_level: debug
retry_delay: 1s
storage:
  backend: file
  path: /tmp/assets.store
formats:
  image/jpeg:
    quality: 92
  codec/libaom-av1:
    crf: 30
`)
	cfg, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.RetryDelay)
	}
	if cfg.Storage.Backend != config.StorageFile || cfg.Storage.Path != "/tmp/assets.store" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if got := cfg.Formats.Int("image/jpeg", "quality", 0); got != 92 {
		t.Errorf("jpeg quality = %d, want 92", got)
	}
	if !cfg.Formats.Bool("image/jpeg", "progressive", false) {
		t.Error("override dropped default progressive option")
	}
	if got := cfg.Formats.Int("codec/libaom-av1", "crf", 0); got != 30 {
		t.Errorf("new codec crf = %d, want 30", got)
	}
	if got := cfg.Formats.Int("codec/libx264", "crf", 0); got != 23 {
		t.Errorf("untouched default crf = %d, want 23", got)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	if _, err := config.Parse([]byte("formats:\n  image/webp:\n    method: 9\n")); err == nil {
		t.Error("expected range error")
	}
	if _, err := config.Parse([]byte("log_level: [\n")); err == nil {
		t.Error("expected yaml error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.yaml")
	if err := os.WriteFile(path, []byte("log_format: json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
