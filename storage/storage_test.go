package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/storage"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

type backend struct {
	name string
	open func(t *testing.T) storage.Storage[string]
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) storage.Storage[string] {
			return storage.NewMemory[string]()
		}},
		{"file", func(t *testing.T) storage.Storage[string] {
			t.Helper()
			s, err := storage.OpenFile(filepath.Join(t.TempDir(), "assets.store"), storage.FileOptions{})
			if err != nil {
				t.Fatalf("OpenFile: %v", err)
			}
			return s
		}},
		{"sqlite", func(t *testing.T) storage.Storage[string] {
			t.Helper()
			s, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "assets.db"), nil)
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		}},
	}
}

// forEachBackend runs fn against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s storage.Storage[string])) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func asset(essence string, md core.Metadata) *core.Asset {
	return core.NewAsset([]byte(essence), md)
}

func mustSet(t *testing.T, s storage.Storage[string], key string, a *core.Asset, tags ...string) {
	t.Helper()
	if err := s.Set(context.Background(), key, a, storage.NewTags(tags...)); err != nil {
		t.Fatalf("Set(%s): %v", key, err)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSetGetDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		ctx := context.Background()
		a := asset("essence", core.Metadata{core.KeyMimeType: "image/png", core.KeyWidth: 4})
		mustSet(t, s, "k", a, "x", "y")

		got, tags, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(a) {
			t.Errorf("Get = %v, want %v", got, a)
		}
		if !slices.Equal(tags.Sorted(), []string{"x", "y"}) {
			t.Errorf("tags = %v", tags)
		}

		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := s.Get(ctx, "k"); !apperrors.IsKeyNotFound(err) || !errors.Is(err, apperrors.ErrKeyNotFound) {
			t.Errorf("Get after delete: %v, want KeyNotFound", err)
		}
		if err := s.Delete(ctx, "k"); !apperrors.IsKeyNotFound(err) {
			t.Errorf("second Delete: %v, want KeyNotFound", err)
		}
	})
}

func TestFilterByTags(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		ctx := context.Background()
		mustSet(t, s, "a", asset("a", nil), "x", "y")
		mustSet(t, s, "b", asset("b", nil), "y")
		mustSet(t, s, "c", asset("c", nil))

		tests := []struct {
			name  string
			query []string
			mode  storage.TagMatch
			want  []string
		}{
			{"any hit", []string{"x"}, storage.MatchAny, []string{"a"}},
			{"any miss", []string{"z"}, storage.MatchAny, []string{}},
			{"any several", []string{"x", "y", "z"}, storage.MatchAny, []string{"a", "b"}},
			{"all superset", []string{"x", "y"}, storage.MatchAll, []string{"a"}},
			{"all single", []string{"y"}, storage.MatchAll, []string{"a", "b"}},
			{"all unknown", []string{"y", "z"}, storage.MatchAll, []string{}},
			{"all empty query", nil, storage.MatchAll, []string{"a", "b", "c"}},
			{"any empty query", nil, storage.MatchAny, []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.FilterByTags(ctx, storage.NewTags(tt.query...), tt.mode)
				if err != nil {
					t.Fatal(err)
				}
				if !slices.Equal(got, tt.want) {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			})
		}

		if _, err := s.FilterByTags(ctx, nil, storage.TagMatch(7)); !apperrors.IsConfiguration(err) {
			t.Errorf("invalid mode: %v, want configuration error", err)
		}
	})
}

func TestFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		ctx := context.Background()
		mustSet(t, s, "small", asset("1", core.Metadata{core.KeyWidth: 100, core.KeyMimeType: "image/png"}))
		mustSet(t, s, "large", asset("2", core.Metadata{core.KeyWidth: 4000, core.KeyMimeType: "image/jpeg"}))
		mustSet(t, s, "float", asset("3", core.Metadata{core.KeyWidth: 100.0, "exif.iso": 200}))
		mustSet(t, s, "audio", asset("4", core.Metadata{core.KeyDuration: 3.5, core.KeyMimeType: "audio/mpeg"}))

		expr, err := storage.Expr(`"exif.iso" in meta && meta["exif.iso"] >= 100`)
		if err != nil {
			t.Fatal(err)
		}
		tests := []struct {
			name string
			p    storage.Predicate
			want []string
		}{
			{"eq int matches float", storage.Eq(core.KeyWidth, 100), []string{"small", "float"}},
			{"eq string", storage.Eq(core.KeyMimeType, "image/jpeg"), []string{"large"}},
			{"eq nothing", storage.Eq(core.KeyMimeType, "video/mp4"), []string{}},
			{"ne skips missing", storage.Ne(core.KeyMimeType, "image/png"), []string{"large", "audio"}},
			{"not eq includes missing", storage.Not(storage.Eq(core.KeyMimeType, "image/png")), []string{"large", "float", "audio"}},
			{"gt", storage.Gt(core.KeyWidth, 100), []string{"large"}},
			{"between", storage.Between(core.KeyWidth, 50, 150.5), []string{"small", "float"}},
			{"lt string", storage.Lt(core.KeyMimeType, "image"), []string{"audio"}},
			{"exists", storage.Exists(core.KeyDuration), []string{"audio"}},
			{"or", storage.Or(storage.Exists(core.KeyDuration), storage.Gte(core.KeyWidth, 4000)), []string{"large", "audio"}},
			{"and empty", storage.And(), []string{"small", "large", "float", "audio"}},
			{"func", storage.PredicateFunc(func(md core.Metadata) bool { return len(md) == 1 }), []string{}},
			{"cel", expr, []string{"float"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Filter(ctx, tt.p)
				if err != nil {
					t.Fatal(err)
				}
				if !slices.Equal(got, tt.want) {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			})
		}
	})
}

func TestOverwriteKeepsPosition(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		ctx := context.Background()
		for _, k := range []string{"c", "a", "b"} {
			mustSet(t, s, k, asset(k, nil), "old")
		}
		mustSet(t, s, "a", asset("new", core.Metadata{"v": 2}), "new")

		keys, err := s.Keys(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(keys, []string{"c", "a", "b"}) {
			t.Errorf("keys = %v", keys)
		}
		n, err := s.Len(ctx)
		if err != nil || n != 3 {
			t.Errorf("Len = %d, %v", n, err)
		}
		got, tags, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if string(got.Bytes()) != "new" || !tags.Has("new") || tags.Has("old") {
			t.Errorf("overwrite not applied: %v %v", got, tags)
		}
		if ok, _ := s.Contains(ctx, "a"); !ok {
			t.Error("Contains(a) = false")
		}
		if ok, _ := s.Contains(ctx, "zzz"); ok {
			t.Error("Contains(zzz) = true")
		}
	})
}

func TestSet_RejectsNilAsset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		err := s.Set(context.Background(), "k", nil, nil)
		if !errors.Is(err, apperrors.ErrNilAsset) {
			t.Errorf("err = %v, want ErrNilAsset", err)
		}
	})
}

func TestFilter_RejectsNilPredicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		mustSet(t, s, "k", asset("x", nil))
		for name, p := range map[string]storage.Predicate{"nil": nil, "nil func": storage.PredicateFunc(nil)} {
			_, err := s.Filter(context.Background(), p)
			if !apperrors.IsConfiguration(err) || !errors.Is(err, apperrors.ErrInvalidParameter) {
				t.Errorf("%s: err = %v, want invalid parameter", name, err)
			}
		}
	})
}

// Camera strings read from Exif are not always valid UTF-8.
func TestInvalidUTF8Survives(t *testing.T) {
	md := core.Metadata{"exif.camera.model": "Cam\xff\xfe", "k\xff": "v"}
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		ctx := context.Background()
		a := asset("x", md)
		if err := s.Set(ctx, "key\xff", a, storage.NewTags("tag\xfe")); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, tags, err := s.Get(ctx, "key\xff")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.Equal(a) || !tags.Has("tag\xfe") {
			t.Errorf("got %v %s", got.Metadata(), tags)
		}
		keys, err := s.Filter(ctx, storage.Eq("exif.camera.model", "Cam\xff\xfe"))
		if err != nil || !slices.Equal(keys, []string{"key\xff"}) {
			t.Errorf("Filter = %q, %v", keys, err)
		}
		keys, err = s.FilterByTags(ctx, storage.NewTags("tag\xfe"), storage.MatchAll)
		if err != nil || !slices.Equal(keys, []string{"key\xff"}) {
			t.Errorf("FilterByTags = %q, %v", keys, err)
		}
	})
}

func TestMetadataValuesSurvive(t *testing.T) {
	md := core.Metadata{
		"s":      "text",
		"b":      true,
		"i":      int64(-42),
		"big":    int64(1) << 40,
		"f":      2.5,
		"bytes":  []byte{0, 1, 2},
		"list":   []any{"a", int64(1), 1.5},
		"nested": map[string]any{"k": "v", "n": int64(3)},
		"none":   nil,
	}
	forEachBackend(t, func(t *testing.T, s storage.Storage[string]) {
		a := asset("", md)
		mustSet(t, s, "k", a)
		got, _, err := s.Get(context.Background(), "k")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(a) {
			t.Errorf("got %v, want %v", got.Metadata(), a.Metadata())
		}
	})
}

func TestTags(t *testing.T) {
	a := storage.NewTags("x", "y")
	if !a.IsSupersetOf(storage.NewTags("x")) || a.IsSupersetOf(storage.NewTags("z")) {
		t.Error("IsSupersetOf")
	}
	if !a.IsSupersetOf(nil) {
		t.Error("every set is a superset of the empty set")
	}
	if a.Intersects(nil) || !a.Intersects(storage.NewTags("y", "z")) {
		t.Error("Intersects")
	}
	if a.String() != "{x, y}" {
		t.Errorf("String = %q", a.String())
	}

	for in, want := range map[string]storage.TagMatch{"": storage.MatchAll, "all": storage.MatchAll, "ANY": storage.MatchAny} {
		got, err := storage.ParseTagMatch(in)
		if err != nil || got != want {
			t.Errorf("ParseTagMatch(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := storage.ParseTagMatch("some"); !apperrors.IsConfiguration(err) {
		t.Errorf("ParseTagMatch(some) = %v", err)
	}
}

func TestExpr_CompileErrors(t *testing.T) {
	for _, src := range []string{`meta[`, `1 + 1`, `unknown_var == 1`} {
		if _, err := storage.Expr(src); !apperrors.IsConfiguration(err) {
			t.Errorf("Expr(%q) = %v, want configuration error", src, err)
		}
	}
}
