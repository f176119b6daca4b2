package storage

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// Expr compiles a CEL expression over the variable meta, a map from
// metadata key to value, e.g.
//
//	meta["derived.width"] >= 1024 && "exif.iso" in meta
//
// Compile errors and non-boolean expressions are configuration errors.  An
// evaluation error, such as a missing key, makes the entry not match.
func Expr(src string) (Predicate, error) {
	env, err := cel.NewEnv(cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "storage.expr", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, apperrors.Newf(apperrors.CategoryConfig, "storage.expr", "%w: compile %q: %v", apperrors.ErrInvalidParameter, src, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, apperrors.Newf(apperrors.CategoryConfig, "storage.expr", "%w: %q yields %s, want bool", apperrors.ErrInvalidParameter, src, ast.OutputType())
	}
	prg, err := env.Program(ast, cel.CostLimit(100000))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "storage.expr", err)
	}
	return &celPredicate{src: src, prg: prg}, nil
}

type celPredicate struct {
	src string
	prg cel.Program
}

func (c *celPredicate) Match(md core.Metadata) bool {
	out, _, err := c.prg.Eval(map[string]any{"meta": map[string]any(md)})
	if err != nil {
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

func (c *celPredicate) String() string { return fmt.Sprintf("expr(%s)", c.src) }
