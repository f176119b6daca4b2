// assetctl inspects, converts and catalogues media assets from the command
// line.
//
//	assetctl info [flags] FILE
//	assetctl convert [flags] IN OUT
//	assetctl store put|get|rm|ls|find [flags] ...
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	assetmanager "github.com/Skryldev/asset-manager"
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/hooks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "assetctl: %v\n", err)
		os.Exit(1)
	}
}

const usage = `assetctl inspects, converts and catalogues media assets.

Usage:
  assetctl info [flags] FILE
  assetctl convert [flags] IN OUT
  assetctl store put [flags] KEY FILE
  assetctl store get [flags] KEY OUT
  assetctl store rm [flags] KEY
  assetctl store ls [flags]
  assetctl store find [flags]

Run "assetctl COMMAND --help" for the flags of a command.
`

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "info":
		return runInfo(ctx, args[1:], stdout, stderr)
	case "convert":
		return runConvert(ctx, args[1:], stdout, stderr)
	case "store":
		return runStore(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}
	fmt.Fprint(stderr, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

// ── Shared flags ──────────────────────────────────────────────────────────────

// globals are accepted by every command.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
	stderr     io.Writer
}

func newFlagSet(name string, g *globals, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("assetctl "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&g.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	fs.StringVar(&g.logFormat, "log-format", "", "override log format (text, json)")
	g.stderr = stderr
	return fs
}

// config loads the configuration file, if any, and applies flag overrides.
func (g *globals) config() (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return cfg, err
		}
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	return cfg, config.Validate(cfg)
}

// manager builds an asset manager from cfg.  The returned function releases
// processor resources.
func (g *globals) manager(cfg config.Config) (*assetmanager.Manager, func(), error) {
	logger := hooks.NewLogger(g.stderr, cfg.LogLevel, cfg.LogFormat)
	opts := []assetmanager.Option{
		assetmanager.WithLogger(logger),
		assetmanager.WithHook(hooks.NewLoggingHook(logger)),
	}
	images, release, err := imageProcessor(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if images != nil {
		opts = append(opts, assetmanager.WithImageProcessor(images))
	}
	m, err := assetmanager.New(cfg, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return m, release, nil
}

func expectArgs(fs *pflag.FlagSet, n int, names string) ([]string, error) {
	if fs.NArg() != n {
		return nil, fmt.Errorf("%s: expected %s, got %d argument(s)", fs.Name(), names, fs.NArg())
	}
	return fs.Args(), nil
}
