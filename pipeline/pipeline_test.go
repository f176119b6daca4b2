package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/pipeline"
)

// ── Fixtures ──────────────────────────────────────────────────────────────────

var errRejected = errors.New("rejected")

func textAsset(s string) *core.Asset {
	return core.NewAsset([]byte(s), core.Metadata{core.KeyMimeType: "text/plain"})
}

// suffixOp appends suffix and counts invocations.
func suffixOp(name, suffix string, calls *int64) *core.Operator {
	return core.NewOperator(name, map[string]any{"suffix": suffix}, func(_ context.Context, a *core.Asset) (*core.Asset, error) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		return a.WithEssence(append(a.Bytes(), suffix...)), nil
	})
}

// rejectOp fails for assets whose essence equals reject.
func rejectOp(name, reject, suffix string) *core.Operator {
	return core.NewOperator(name, nil, func(_ context.Context, a *core.Asset) (*core.Asset, error) {
		if string(a.Bytes()) == reject {
			return nil, errRejected
		}
		return a.WithEssence(append(a.Bytes(), suffix...)), nil
	})
}

type recordingHook struct {
	before, after []string
	errs          int
}

func (h *recordingHook) BeforeOperator(_ context.Context, name string, _ *core.Asset) {
	h.before = append(h.before, name)
}

func (h *recordingHook) AfterOperator(_ context.Context, name string, _ *core.Asset, _ time.Duration, err error) {
	h.after = append(h.after, name)
	if err != nil {
		h.errs++
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestProcess_PerItemIsolation(t *testing.T) {
	a := rejectOp("A", "x", "+A")
	b := suffixOp("B", "+B", nil)
	p := pipeline.New(a, b)

	x, y := textAsset("x"), textAsset("y")
	want, err := b.Apply(context.Background(), mustApply(t, a, y))
	if err != nil {
		t.Fatal(err)
	}

	var results []*core.Asset
	var errs []error
	for out, err := range p.Process(context.Background(), x, y) {
		results = append(results, out)
		errs = append(errs, err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !apperrors.IsOperator(errs[0]) || !errors.Is(errs[0], errRejected) {
		t.Errorf("x: expected operator error, got %v", errs[0])
	}
	if results[0] != nil {
		t.Error("x: failed item should yield no asset")
	}
	if errs[1] != nil {
		t.Fatalf("y: unexpected error %v", errs[1])
	}
	if !results[1].Equal(want) {
		t.Errorf("y = %q, want %q", results[1].Bytes(), want.Bytes())
	}
}

func mustApply(t *testing.T, op *core.Operator, a *core.Asset) *core.Asset {
	t.Helper()
	out, err := op.Apply(context.Background(), a)
	if err != nil {
		t.Fatalf("%s: %v", op.Name(), err)
	}
	return out
}

func TestProcess_IsLazy(t *testing.T) {
	var calls int64
	p := pipeline.New(suffixOp("count", "!", &calls))
	seq := p.Process(context.Background(), textAsset("a"), textAsset("b"), textAsset("c"))
	if n := atomic.LoadInt64(&calls); n != 0 {
		t.Fatalf("operators ran before consumption: %d", n)
	}

	pulled := 0
	for _, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		pulled++
		if n := atomic.LoadInt64(&calls); n != int64(pulled) {
			t.Fatalf("after %d pulls %d operator calls", pulled, n)
		}
		if pulled == 2 {
			break
		}
	}
	if n := atomic.LoadInt64(&calls); n != 2 {
		t.Errorf("work continued after break: %d calls", n)
	}
}

func TestProcess_SnapshotsOperators(t *testing.T) {
	p := pipeline.New(suffixOp("one", "1", nil))
	seq := p.Process(context.Background(), textAsset(""))
	p.Add(suffixOp("two", "2", nil))
	for out, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		if string(out.Bytes()) != "1" {
			t.Errorf("got %q, later Add leaked into running sequence", out.Bytes())
		}
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d", p.Len())
	}
}

func TestProcess_InputsUnchanged(t *testing.T) {
	in := textAsset("orig")
	before := core.NewAsset(in.Bytes(), in.Metadata())
	for _, err := range pipeline.New(suffixOp("s", "-x", nil)).Process(context.Background(), in) {
		if err != nil {
			t.Fatal(err)
		}
	}
	if !in.Equal(before) {
		t.Error("input asset mutated")
	}
}

func TestProcess_CancelledContextIsPerItemError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := 0
	for out, err := range pipeline.New(suffixOp("s", "x", nil)).Process(ctx, textAsset("a"), textAsset("b")) {
		n++
		if out != nil || !errors.Is(err, context.Canceled) {
			t.Errorf("item %d: %v, %v", n, out, err)
		}
	}
	if n != 2 {
		t.Errorf("yielded %d items, want 2", n)
	}
}

func TestProcessSeq_PullsSourceLazily(t *testing.T) {
	var produced int64
	source := func(yield func(*core.Asset) bool) {
		for _, s := range []string{"a", "b", "c"} {
			atomic.AddInt64(&produced, 1)
			if !yield(textAsset(s)) {
				return
			}
		}
	}
	for range pipeline.New(suffixOp("s", "x", nil)).ProcessSeq(context.Background(), source) {
		break
	}
	if produced != 1 {
		t.Errorf("source produced %d assets for one pull", produced)
	}
}

func TestRun_HooksAndTimings(t *testing.T) {
	hook := &recordingHook{}
	p := pipeline.New(suffixOp("first", "1", nil), rejectOp("second", "x1", "2")).AddHook(hook)

	out, timings, err := p.Run(context.Background(), textAsset("a"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out.Bytes()) != "a12" {
		t.Errorf("out = %q", out.Bytes())
	}
	if _, ok := timings["first"]; !ok {
		t.Error("missing timing for first")
	}
	if len(hook.before) != 2 || len(hook.after) != 2 || hook.errs != 0 {
		t.Errorf("hooks = %+v", hook)
	}

	if _, _, err := p.Run(context.Background(), textAsset("x")); !apperrors.IsOperator(err) {
		t.Errorf("expected operator error, got %v", err)
	}
	if hook.errs != 1 {
		t.Errorf("error hook calls = %d", hook.errs)
	}
	if _, _, err := p.Run(context.Background(), nil); !errors.Is(err, apperrors.ErrNilAsset) {
		t.Errorf("nil asset: %v", err)
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var calls int64
	flaky := core.NewOperator("flaky", nil, func(_ context.Context, a *core.Asset) (*core.Asset, error) {
		if atomic.AddInt64(&calls, 1) < 3 {
			return nil, apperrors.Transient(apperrors.CategoryInput, "flaky", errors.New("busy"))
		}
		return a, nil
	})
	p := pipeline.New(flaky).WithRetry(3, time.Millisecond)
	if _, _, err := p.Run(context.Background(), textAsset("a")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	permanent := pipeline.New(rejectOp("reject", "a", "")).WithRetry(3, time.Millisecond)
	if _, _, err := permanent.Run(context.Background(), textAsset("a")); err == nil {
		t.Fatal("expected error")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	p := pipeline.New(suffixOp("a", "a", nil))
	cp := p.Clone()
	cp.Add(suffixOp("b", "b", nil))
	if p.Len() != 1 || cp.Len() != 2 {
		t.Errorf("Len: original %d, clone %d", p.Len(), cp.Len())
	}
}

func BenchmarkProcess(b *testing.B) {
	p := pipeline.New(suffixOp("a", "a", nil), suffixOp("b", "b", nil))
	assets := make([]*core.Asset, 64)
	for i := range assets {
		assets[i] = textAsset("bench")
	}
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		for _, err := range p.Process(ctx, assets...) {
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}
