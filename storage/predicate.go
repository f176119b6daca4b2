package storage

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Skryldev/asset-manager/core"
)

// Predicate selects stored entries by their metadata.
type Predicate interface {
	Match(md core.Metadata) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(md core.Metadata) bool

func (f PredicateFunc) Match(md core.Metadata) bool { return f(md) }

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opGt
	opGte
	opLt
	opLte
)

var opSymbols = [...]string{"==", "!=", ">", ">=", "<", "<="}

type comparison struct {
	key   string
	op    cmpOp
	value any
}

// Eq matches entries whose value under key equals v.  Numbers compare by
// value regardless of their integer or float representation.
func Eq(key string, v any) Predicate { return comparison{key, opEq, normalizeValue(v)} }

// Ne matches entries that hold key with a value different from v.  Entries
// lacking key do not match; use Not(Eq(...)) to include them.
func Ne(key string, v any) Predicate { return comparison{key, opNe, normalizeValue(v)} }

// Gt, Gte, Lt and Lte order numbers numerically and strings lexically.
// Values of other or mismatched types never match.
func Gt(key string, v any) Predicate  { return comparison{key, opGt, normalizeValue(v)} }
func Gte(key string, v any) Predicate { return comparison{key, opGte, normalizeValue(v)} }
func Lt(key string, v any) Predicate  { return comparison{key, opLt, normalizeValue(v)} }
func Lte(key string, v any) Predicate { return comparison{key, opLte, normalizeValue(v)} }

// Between matches lo <= value <= hi.
func Between(key string, lo, hi any) Predicate { return And(Gte(key, lo), Lte(key, hi)) }

func (c comparison) Match(md core.Metadata) bool {
	v, ok := md[c.key]
	if !ok {
		return false
	}
	switch c.op {
	case opEq:
		return equal(v, c.value)
	case opNe:
		return !equal(v, c.value)
	}
	n, ok := order(v, c.value)
	if !ok {
		return false
	}
	switch c.op {
	case opGt:
		return n > 0
	case opGte:
		return n >= 0
	case opLt:
		return n < 0
	default:
		return n <= 0
	}
}

func (c comparison) String() string {
	return fmt.Sprintf("%s %s %#v", c.key, opSymbols[c.op], c.value)
}

type exists string

// Exists matches entries that hold key.
func Exists(key string) Predicate { return exists(key) }

func (e exists) Match(md core.Metadata) bool {
	_, ok := md[string(e)]
	return ok
}

func (e exists) String() string { return "exists(" + string(e) + ")" }

type and []Predicate

// And matches when every predicate matches; an empty And matches all.
func And(ps ...Predicate) Predicate { return and(ps) }

func (a and) Match(md core.Metadata) bool {
	for _, p := range a {
		if !p.Match(md) {
			return false
		}
	}
	return true
}

func (a and) String() string { return join("and", a) }

type or []Predicate

// Or matches when any predicate matches; an empty Or matches nothing.
func Or(ps ...Predicate) Predicate { return or(ps) }

func (o or) Match(md core.Metadata) bool {
	for _, p := range o {
		if p.Match(md) {
			return true
		}
	}
	return false
}

func (o or) String() string { return join("or", o) }

type not struct{ p Predicate }

func Not(p Predicate) Predicate { return not{p} }

func (n not) Match(md core.Metadata) bool { return !n.p.Match(md) }

func (n not) String() string { return fmt.Sprintf("not(%v)", n.p) }

func join(name string, ps []Predicate) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprint(p)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// ── Value comparison ──────────────────────────────────────────────────────────

func normalizeValue(v any) any {
	return core.Normalize(core.Metadata{"": v})[""]
}

func equal(a, b any) bool {
	if n, ok := order(a, b); ok {
		return n == 0
	}
	return reflect.DeepEqual(a, b)
}

// order compares two numbers or two strings.
func order(a, b any) (int, bool) {
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			}
			return 0, true
		}
	}
	if af, ok := number(a); ok {
		bf, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), true
		}
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
