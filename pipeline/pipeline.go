// Package pipeline applies ordered operators to batches of assets with hook
// and retry support.
package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// Pipeline executes a sequence of Operators.  It is mutable while being
// built and may then be shared read-only across many Process calls.
type Pipeline struct {
	ops        []*core.Operator
	hooks      []core.Hook
	maxRetries int
	retryDelay time.Duration
}

// New returns an empty Pipeline.
func New(ops ...*core.Operator) *Pipeline { return (&Pipeline{}).Add(ops...) }

// Add appends operators to the pipeline.  nil operators are ignored.
// Returns the same Pipeline for chaining.
func (p *Pipeline) Add(ops ...*core.Operator) *Pipeline {
	for _, op := range ops {
		if op != nil {
			p.ops = append(p.ops, op)
		}
	}
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// WithRetry sets the maximum retry count and delay for transient failures.
func (p *Pipeline) WithRetry(maxRetries int, delay time.Duration) *Pipeline {
	p.maxRetries = maxRetries
	p.retryDelay = delay
	return p
}

// Len is the number of operators.
func (p *Pipeline) Len() int { return len(p.ops) }

// Operators returns the operators in application order.
func (p *Pipeline) Operators() []*core.Operator {
	return append([]*core.Operator(nil), p.ops...)
}

// Process returns a lazy sequence of results, one per input asset in input
// order.  Each asset runs through the operators only when its result is
// pulled.  An operator failure stops that asset alone and is yielded as its
// error; the remaining assets are unaffected.  Stopping the iteration stops
// all further work.
//
// The operator list is captured when Process is called.
func (p *Pipeline) Process(ctx context.Context, assets ...*core.Asset) iter.Seq2[*core.Asset, error] {
	snap := p.Clone()
	assets = append([]*core.Asset(nil), assets...)
	return func(yield func(*core.Asset, error) bool) {
		for _, a := range assets {
			out, _, err := snap.Run(ctx, a)
			if !yield(out, err) {
				return
			}
		}
	}
}

// ProcessSeq is Process over a lazy source.  The source is pulled one asset
// at a time, just before that asset is transformed.
func (p *Pipeline) ProcessSeq(ctx context.Context, assets iter.Seq[*core.Asset]) iter.Seq2[*core.Asset, error] {
	snap := p.Clone()
	return func(yield func(*core.Asset, error) bool) {
		for a := range assets {
			out, _, err := snap.Run(ctx, a)
			if !yield(out, err) {
				return
			}
		}
	}
}

// Run executes the pipeline on a single asset.  It returns the final Asset
// and per-operator timing observations.
func (p *Pipeline) Run(ctx context.Context, a *core.Asset) (*core.Asset, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.ops))
	if a == nil {
		return nil, timings, apperrors.New(apperrors.CategoryOperator, "pipeline", apperrors.ErrNilAsset)
	}
	current := a

	for _, op := range p.ops {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Wrap(apperrors.CategoryOperator, op.Name(), err)
		}

		result, elapsed, err := p.runOperator(ctx, op, current)
		timings[op.Name()] += elapsed
		if err != nil {
			return nil, timings, err
		}
		current = result
	}
	return current, timings, nil
}

// runOperator applies a single operator, calling hooks and retrying
// transient errors.
func (p *Pipeline) runOperator(ctx context.Context, op *core.Operator, a *core.Asset) (*core.Asset, time.Duration, error) {
	p.callHooksBefore(ctx, op.Name(), a)

	var (
		result  *core.Asset
		elapsed time.Duration
		err     error
	)

	attempts := p.maxRetries + 1
	for i := 0; i < attempts; i++ {
		start := time.Now()
		result, err = op.Apply(ctx, a)
		elapsed = time.Since(start)

		if err == nil || !apperrors.IsRetryable(err) || i == attempts-1 {
			break
		}
		// Wait before retrying.
		select {
		case <-ctx.Done():
			err = apperrors.Wrap(apperrors.CategoryOperator, op.Name(), ctx.Err())
		case <-time.After(p.retryDelay):
			continue
		}
		break
	}

	p.callHooksAfter(ctx, op.Name(), result, elapsed, err)
	return result, elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, a *core.Asset) {
	for _, h := range p.hooks {
		h.BeforeOperator(ctx, name, a)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, a *core.Asset, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterOperator(ctx, name, a, d, err)
	}
}

// Clone returns a shallow copy of the pipeline so templates can be reused
// safely across goroutines.
func (p *Pipeline) Clone() *Pipeline {
	cp := &Pipeline{
		ops:        make([]*core.Operator, len(p.ops)),
		hooks:      make([]core.Hook, len(p.hooks)),
		maxRetries: p.maxRetries,
		retryDelay: p.retryDelay,
	}
	copy(cp.ops, p.ops)
	copy(cp.hooks, p.hooks)
	return cp
}
