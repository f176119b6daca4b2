package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	apperrors "github.com/Skryldev/asset-manager/errors"
	"github.com/Skryldev/asset-manager/mime"
)

// TransformFunc is the logic bound into an Operator.  It must not modify its
// input and must return a new Asset.
type TransformFunc func(ctx context.Context, a *Asset) (*Asset, error)

// Operator is a validated, reusable transform.  It holds no mutable state
// and may be applied concurrently to different assets.
type Operator struct {
	name   string
	params map[string]any
	fn     TransformFunc
}

// NewOperator binds validated params to fn.  params is copied.
func NewOperator(name string, params map[string]any, fn TransformFunc) *Operator {
	return &Operator{name: name, params: maps.Clone(params), fn: fn}
}

// Name identifies the operator in logs, hooks and errors.
func (o *Operator) Name() string { return o.name }

// Params returns a copy of the bound parameters.
func (o *Operator) Params() map[string]any { return maps.Clone(o.params) }

// Apply runs the operator on a.  Every failure is reported as an operator
// error that keeps the original cause reachable through errors.Is/As.
func (o *Operator) Apply(ctx context.Context, a *Asset) (*Asset, error) {
	if a == nil {
		return nil, apperrors.New(apperrors.CategoryOperator, o.name, apperrors.ErrNilAsset)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CategoryOperator, o.name, err)
	}
	out, err := o.fn(ctx, a)
	if err != nil {
		if apperrors.IsOperator(err) {
			return nil, err
		}
		return nil, &apperrors.ProcessingError{
			Category:  apperrors.CategoryOperator,
			Op:        o.name,
			Err:       err,
			Retryable: apperrors.IsRetryable(err),
		}
	}
	if out == nil {
		return nil, apperrors.Newf(apperrors.CategoryOperator, o.name, "transform returned no asset")
	}
	return out, nil
}

func (o *Operator) String() string {
	if len(o.params) == 0 {
		return o.name + "()"
	}
	parts := make([]string, 0, len(o.params))
	for _, k := range slices.Sorted(maps.Keys(o.params)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, o.params[k]))
	}
	return o.name + "(" + strings.Join(parts, ", ") + ")"
}

// Chain composes ops into a single operator applied left to right.
func Chain(name string, ops ...*Operator) *Operator {
	ops = append([]*Operator(nil), ops...)
	names := make([]any, len(ops))
	for i, op := range ops {
		names[i] = op.Name()
	}
	return NewOperator(name, map[string]any{"operators": names}, func(ctx context.Context, a *Asset) (*Asset, error) {
		cur := a
		for _, op := range ops {
			next, err := op.Apply(ctx, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	})
}

// ── Parameter validation ──────────────────────────────────────────────────────

// ConfigError builds the configuration error returned by operator factories.
func ConfigError(op string, format string, args ...any) error {
	return apperrors.Newf(apperrors.CategoryConfig, op, "%w: "+format, append([]any{apperrors.ErrInvalidParameter}, args...)...)
}

// ValidateDimensions requires a strictly positive width and height.
func ValidateDimensions(op string, width, height int) error {
	if width <= 0 || height <= 0 {
		return apperrors.Newf(apperrors.CategoryConfig, op, "%w: %dx%d", apperrors.ErrInvalidDimensions, width, height)
	}
	return nil
}

// ValidateTarget requires target to be one of supported.
func ValidateTarget(op string, target mime.Type, supported []mime.Type) error {
	if target == mime.Unknown {
		return ConfigError(op, "missing target mime type")
	}
	for _, t := range supported {
		if t == target {
			return nil
		}
	}
	return apperrors.Newf(apperrors.CategoryConfig, op, "%w: cannot produce %s", apperrors.ErrUnsupportedFormat, target)
}
