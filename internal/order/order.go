// Package order computes fractional sort keys for blocks. Keys are
// fixed-point decimals with Scale fractional digits, matching the
// NUMERIC(30,10) column they are stored in.
//
// Placement never fails: a neighbor that is missing from the scope, or
// a midpoint that has run out of precision, degrades to Append. Reorders
// racing with concurrent deletes therefore still land somewhere valid.
package order

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Gap is the distance between consecutive appended keys.
const Gap = 1000

// Scale is the number of fractional digits a key can carry.
const Scale = 10

var (
	gap = decimal.NewFromInt(Gap)
	two = decimal.NewFromInt(2)
)

// Scope identifies an ordered sibling set. Exclude names a block that
// must not count as a sibling (the block being reordered).
type Scope struct {
	PostID        string
	ParentBlockID *string
	Exclude       string
}

// Entry is one live sibling and its key.
type Entry struct {
	ID  string
	Key decimal.Decimal
}

// Source loads the live siblings of a scope sorted by key ascending.
type Source interface {
	Siblings(ctx context.Context, scope Scope) ([]Entry, error)
}

// Allocator assigns keys using siblings read from a Source. Build one
// per transaction so reads and the following write see the same state.
type Allocator struct {
	src Source
}

// New creates an Allocator over src.
func New(src Source) *Allocator {
	return &Allocator{src: src}
}

// Append returns a key after every live sibling in scope.
func (a *Allocator) Append(ctx context.Context, scope Scope) (decimal.Decimal, error) {
	sibs, err := a.load(ctx, scope)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Append(sibs), nil
}

// InsertBetween returns a key that places a block after afterID and
// before beforeID. Either may be empty.
func (a *Allocator) InsertBetween(ctx context.Context, scope Scope, beforeID, afterID string) (decimal.Decimal, error) {
	sibs, err := a.load(ctx, scope)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Place(sibs, beforeID, afterID), nil
}

// Claim returns want unless a live sibling in scope already holds that
// key, in which case it returns an Append key.
func (a *Allocator) Claim(ctx context.Context, scope Scope, want decimal.Decimal) (decimal.Decimal, error) {
	sibs, err := a.load(ctx, scope)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Claim(sibs, want), nil
}

func (a *Allocator) load(ctx context.Context, scope Scope) ([]Entry, error) {
	sibs, err := a.src.Siblings(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("order: load siblings of %s: %w", scope.PostID, err)
	}
	sort.SliceStable(sibs, func(i, j int) bool { return sibs[i].Key.LessThan(sibs[j].Key) })
	return sibs, nil
}

// Append returns max(key)+Gap over sibs, or Gap when sibs is empty.
// sibs must be sorted ascending.
func Append(sibs []Entry) decimal.Decimal {
	if len(sibs) == 0 {
		return gap
	}
	return sibs[len(sibs)-1].Key.Add(gap)
}

// Claim returns want if no entry of sibs holds it, else Append(sibs).
func Claim(sibs []Entry, want decimal.Decimal) decimal.Decimal {
	if taken(sibs, want) {
		return Append(sibs)
	}
	return want
}

// Place computes a key for the given neighbors over sorted sibs.
//
//   - both: midpoint of after and before
//   - before only: midpoint with before's predecessor, or before-Gap at the head
//   - after only: midpoint with after's successor, or after+Gap at the tail
//   - neither: Append
//
// A missing neighbor, an exhausted midpoint, or a key already taken by
// another sibling all fall back to Append.
func Place(sibs []Entry, beforeID, afterID string) decimal.Decimal {
	bi, ai := indexOf(sibs, beforeID), indexOf(sibs, afterID)

	switch {
	case beforeID != "" && afterID != "":
		if bi < 0 || ai < 0 {
			return Append(sibs)
		}
		m, ok := Midpoint(sibs[ai].Key, sibs[bi].Key)
		if !ok || taken(sibs, m) {
			return Append(sibs)
		}
		return m

	case beforeID != "":
		if bi < 0 {
			return Append(sibs)
		}
		if bi == 0 {
			return sibs[0].Key.Sub(gap)
		}
		m, ok := Midpoint(sibs[bi-1].Key, sibs[bi].Key)
		if !ok {
			return Append(sibs)
		}
		return m

	case afterID != "":
		if ai < 0 {
			return Append(sibs)
		}
		if ai == len(sibs)-1 {
			return sibs[ai].Key.Add(gap)
		}
		m, ok := Midpoint(sibs[ai].Key, sibs[ai+1].Key)
		if !ok {
			return Append(sibs)
		}
		return m
	}

	return Append(sibs)
}

// Midpoint returns (a+b)/2 truncated to Scale digits. ok is false when
// the result equals either endpoint, i.e. precision is exhausted.
func Midpoint(a, b decimal.Decimal) (decimal.Decimal, bool) {
	m := a.Add(b).Div(two).Truncate(Scale)
	if m.Equal(a) || m.Equal(b) {
		return decimal.Decimal{}, false
	}
	return m, true
}

// Sequence returns n keys Gap, 2*Gap, ... for a full rebuild.
func Sequence(n int) []decimal.Decimal {
	keys := make([]decimal.Decimal, n)
	for i := range keys {
		keys[i] = decimal.NewFromInt(int64(i+1) * Gap)
	}
	return keys
}

func indexOf(sibs []Entry, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range sibs {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func taken(sibs []Entry, k decimal.Decimal) bool {
	for _, e := range sibs {
		if e.Key.Equal(k) {
			return true
		}
	}
	return false
}
