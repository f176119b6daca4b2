package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	assetmanager "github.com/Skryldev/asset-manager"
	"github.com/Skryldev/asset-manager/config"
	"github.com/Skryldev/asset-manager/storage"
)

// storeFlags select and override the configured storage backend.
type storeFlags struct {
	backend     string
	path        string
	compression string
}

func (s *storeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&s.backend, "backend", "", "storage backend: memory, file or sqlite")
	fs.StringVar(&s.path, "path", "", "store file or SQLite database")
	fs.StringVar(&s.compression, "compression", "", "file store compression: none, lz4 or zstd")
}

func (s *storeFlags) apply(cfg *config.Config) {
	if s.backend != "" {
		cfg.Storage.Backend = config.StorageBackend(s.backend)
	}
	if s.path != "" {
		cfg.Storage.Path = s.path
	}
	if s.compression != "" {
		cfg.Storage.Compression = s.compression
	}
	// A path alone implies the persisted file store.
	if s.backend == "" && s.path != "" && cfg.Storage.Backend == config.StorageMemory {
		cfg.Storage.Backend = config.StorageFile
	}
}

type storeCommand struct {
	name  string
	args  string
	nargs int
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, env *storeEnv, args []string) error
}

// storeEnv is what every store subcommand runs against.
type storeEnv struct {
	m      *assetmanager.Manager
	store  storage.Storage[string]
	stdout io.Writer
}

func runStore(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		tags     []string
		matchAny bool
		where    string
		asJSON   bool
	)
	commands := map[string]storeCommand{
		"put": {"put", "KEY FILE", 2,
			func(fs *pflag.FlagSet) { fs.StringSliceVarP(&tags, "tag", "t", nil, "tag to attach (repeatable)") },
			func(ctx context.Context, env *storeEnv, args []string) error {
				a, err := env.m.ReadFile(ctx, args[1])
				if err != nil {
					return err
				}
				if err := env.store.Set(ctx, args[0], a, storage.NewTags(tags...)); err != nil {
					return err
				}
				fmt.Fprintf(env.stdout, "stored %s (%s, %d bytes)\n", args[0], a.MimeType(), a.Size())
				return nil
			}},
		"get": {"get", "KEY OUT", 2,
			func(fs *pflag.FlagSet) { fs.BoolVar(&asJSON, "json", false, "print metadata as JSON instead of writing OUT") },
			func(ctx context.Context, env *storeEnv, args []string) error {
				a, t, err := env.store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return printMetadata(env.stdout, a, true)
				}
				if err := env.m.WriteFile(ctx, a, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(env.stdout, "wrote %s tags=%s\n", args[1], t)
				return nil
			}},
		"rm": {"rm", "KEY", 1, nil,
			func(ctx context.Context, env *storeEnv, args []string) error {
				return env.store.Delete(ctx, args[0])
			}},
		"ls": {"ls", "no arguments", 0, nil,
			func(ctx context.Context, env *storeEnv, _ []string) error {
				keys, err := env.store.Keys(ctx)
				if err != nil {
					return err
				}
				return printKeys(env.stdout, keys)
			}},
		"find": {"find", "no arguments", 0,
			func(fs *pflag.FlagSet) {
				fs.StringSliceVarP(&tags, "tag", "t", nil, "required tag (repeatable)")
				fs.BoolVar(&matchAny, "any", false, "match entries carrying any of the tags instead of all")
				fs.StringVar(&where, "where", "", `CEL condition over meta, e.g. 'meta["derived.width"] > 1000'`)
			},
			func(ctx context.Context, env *storeEnv, _ []string) error {
				keys, err := find(ctx, env.store, tags, matchAny, where)
				if err != nil {
					return err
				}
				return printKeys(env.stdout, keys)
			}},
	}

	if len(args) == 0 {
		return errors.New("store: missing subcommand (put, get, rm, ls, find)")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("store: unknown subcommand %q", args[0])
	}

	var g globals
	var sf storeFlags
	fs := newFlagSet("store "+cmd.name, &g, stderr)
	sf.register(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	rest, err := expectArgs(fs, cmd.nargs, cmd.args)
	if err != nil {
		return err
	}
	cfg, err := g.config()
	if err != nil {
		return err
	}
	sf.apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	m, release, err := g.manager(cfg)
	if err != nil {
		return err
	}
	defer release()

	st, err := m.OpenStorage(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return cmd.run(ctx, &storeEnv{m: m, store: st, stdout: stdout}, rest)
}

// find intersects the tag query with the CEL condition; with neither it
// lists every key.
func find(ctx context.Context, st storage.Storage[string], tags []string, matchAny bool, where string) ([]string, error) {
	mode := storage.MatchAll
	if matchAny {
		mode = storage.MatchAny
	}
	var keys []string
	var err error
	if len(tags) == 0 {
		keys, err = st.Keys(ctx)
	} else {
		keys, err = st.FilterByTags(ctx, storage.NewTags(tags...), mode)
	}
	if err != nil {
		return nil, err
	}
	if where == "" {
		return keys, nil
	}
	p, err := storage.Expr(where)
	if err != nil {
		return nil, err
	}
	matched, err := st.Filter(ctx, p)
	if err != nil {
		return nil, err
	}
	inTags := make(map[string]bool, len(keys))
	for _, k := range keys {
		inTags[k] = true
	}
	out := matched[:0]
	for _, k := range matched {
		if inTags[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func printKeys(w io.Writer, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(w, strings.Join(keys, "\n"))
	return err
}
