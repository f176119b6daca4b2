// Package storage keeps assets with their tag sets under caller-chosen keys
// and answers metadata and tag queries.  Every backend reports keys in
// first-insertion order; overwriting a key keeps its position.
package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// Storage maps keys to (asset, tags) entries.  Implementations assume a
// single writer.
type Storage[K comparable] interface {
	// Set creates or overwrites the entry for key.
	Set(ctx context.Context, key K, a *core.Asset, tags Tags) error
	// Get returns a KeyNotFound error for unknown keys.
	Get(ctx context.Context, key K) (*core.Asset, Tags, error)
	// Delete returns a KeyNotFound error for unknown keys.
	Delete(ctx context.Context, key K) error
	Contains(ctx context.Context, key K) (bool, error)
	Keys(ctx context.Context) ([]K, error)
	Len(ctx context.Context) (int, error)
	// Filter returns the keys whose stored metadata satisfies p.
	Filter(ctx context.Context, p Predicate) ([]K, error)
	// FilterByTags returns the keys whose tag set matches tags under mode.
	FilterByTags(ctx context.Context, tags Tags, mode TagMatch) ([]K, error)
	Close() error
}

// ── Tags ──────────────────────────────────────────────────────────────────────

// Tags is an unordered set of labels.
type Tags map[string]struct{}

func NewTags(tags ...string) Tags {
	t := make(Tags, len(tags))
	for _, tag := range tags {
		t[tag] = struct{}{}
	}
	return t
}

func (t Tags) Has(tag string) bool {
	_, ok := t[tag]
	return ok
}

// Sorted returns the tags in lexical order.
func (t Tags) Sorted() []string {
	out := make([]string, 0, len(t))
	for tag := range t {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for tag := range t {
		out[tag] = struct{}{}
	}
	return out
}

// IsSupersetOf reports whether t holds every tag of other.
func (t Tags) IsSupersetOf(other Tags) bool {
	for tag := range other {
		if !t.Has(tag) {
			return false
		}
	}
	return true
}

// Intersects reports whether t and other share at least one tag.
func (t Tags) Intersects(other Tags) bool {
	small, large := t, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for tag := range small {
		if large.Has(tag) {
			return true
		}
	}
	return false
}

func (t Tags) String() string { return "{" + strings.Join(t.Sorted(), ", ") + "}" }

// TagMatch selects how FilterByTags compares tag sets.  The zero value is
// MatchAll.
type TagMatch int

const (
	// MatchAll requires the stored tags to be a superset of the query.  An
	// empty query matches every entry.
	MatchAll TagMatch = iota
	// MatchAny requires a non-empty intersection.  An empty query matches
	// nothing.
	MatchAny
)

func (m TagMatch) String() string {
	switch m {
	case MatchAll:
		return "all"
	case MatchAny:
		return "any"
	}
	return fmt.Sprintf("TagMatch(%d)", int(m))
}

// ParseTagMatch accepts "all" and "any"; the empty string is MatchAll.
func ParseTagMatch(s string) (TagMatch, error) {
	switch strings.ToLower(s) {
	case "", "all":
		return MatchAll, nil
	case "any":
		return MatchAny, nil
	}
	return 0, apperrors.Newf(apperrors.CategoryConfig, "storage.tag_match", "%w: unknown tag match %q", apperrors.ErrInvalidParameter, s)
}

// Matches applies the mode to a stored tag set.
func (m TagMatch) Matches(stored, query Tags) bool {
	if m == MatchAny {
		return stored.Intersects(query)
	}
	return stored.IsSupersetOf(query)
}

func (m TagMatch) valid() bool { return m == MatchAll || m == MatchAny }

// ── Errors ────────────────────────────────────────────────────────────────────

func keyNotFound[K comparable](op string, key K) error {
	return apperrors.Newf(apperrors.CategoryKeyNotFound, op, "%w: %v", apperrors.ErrKeyNotFound, key)
}

func invalidMatch(op string, m TagMatch) error {
	return apperrors.Newf(apperrors.CategoryConfig, op, "%w: tag match %s", apperrors.ErrInvalidParameter, m)
}

func checkPredicate(op string, p Predicate) error {
	if f, ok := p.(PredicateFunc); p == nil || (ok && f == nil) {
		return apperrors.Newf(apperrors.CategoryConfig, op, "%w: nil predicate", apperrors.ErrInvalidParameter)
	}
	return nil
}

func checkAsset(op string, a *core.Asset) error {
	if a == nil {
		return apperrors.New(apperrors.CategoryInput, op, apperrors.ErrNilAsset)
	}
	return nil
}

func checkContext(ctx context.Context, op string) error {
	return apperrors.Wrap(apperrors.CategoryStorage, op, ctx.Err())
}
