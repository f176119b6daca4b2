//go:build vips

package main

import (
	"github.com/Skryldev/asset-manager/adapters/vips"
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
)

// imageProcessor returns the libvips processor when cfg enables it.
func imageProcessor(cfg config.Config, logger core.Logger) (core.Processor, func(), error) {
	if !cfg.Vips.Enabled {
		return nil, func() {}, nil
	}
	p := vips.New(cfg.Vips, cfg.Formats)
	logger.Debug("assetctl.vips.enabled", "concurrency", cfg.Vips.Concurrency)
	return p, p.Shutdown, nil
}
