//go:build !vips

package main

import (
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/core"
)

// imageProcessor returns nil: without the vips build tag the pure-Go raster
// processor handles still images.
func imageProcessor(cfg config.Config, logger core.Logger) (core.Processor, func(), error) {
	if cfg.Vips.Enabled {
		logger.Warn("assetctl.vips.unavailable", "reason", "built without the vips tag")
	}
	return nil, func() {}, nil
}
