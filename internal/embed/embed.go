// Package embed maintains the embedded-page graph. A page_link block in
// embed display mode that references another page is an edge from the
// containing page to that page. When the target is a structural child
// of the containing page (same parent, same author), its lifecycle
// follows the edge: removing the embed trashes the child, re-adding it
// restores the child, and the embed order drives sibling page_order
// within each category, the same scope page moves renumber.
package embed

import (
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/document"
)

// Targets returns the embed target ids of blocks in document order,
// first occurrence only. Blocks whose content cannot be decoded are
// ignored.
func Targets(blocks []block.Block) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, b := range blocks {
		if b.IsDeleted || b.BlockType != block.TypePageLink || b.RefPostID == nil || *b.RefPostID == "" {
			continue
		}
		n, err := document.NodeFromContent(b.Content)
		if err != nil {
			continue
		}
		link, ok := n.AsPageLink()
		if !ok || !link.Embedded() {
			continue
		}
		id := *b.RefPostID
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Plan is the set of lifecycle changes implied by one save.
type Plan struct {
	// Remove lists embeds present before the save and gone after it.
	Remove []string
	// Restore lists every current embed; reappearing ones are undone.
	Restore []string
	// Order is the first-seen embed order used for re-ranking.
	Order []string
}

// Diff builds the Plan from the embed targets before and after a save.
func Diff(prev, next []string) Plan {
	keep := make(map[string]bool, len(next))
	for _, id := range next {
		keep[id] = true
	}
	p := Plan{Remove: []string{}, Restore: next, Order: next}
	for _, id := range prev {
		if !keep[id] {
			p.Remove = append(p.Remove, id)
		}
	}
	return p
}

// Rank returns the new sibling order: embedded ids first, in embed
// order, followed by the remaining siblings in their existing order.
// Ids in embedOrder that are not siblings are skipped.
func Rank(embedOrder, siblings []string) []string {
	isSibling := make(map[string]bool, len(siblings))
	for _, id := range siblings {
		isSibling[id] = true
	}

	placed := make(map[string]bool, len(siblings))
	out := make([]string, 0, len(siblings))
	for _, id := range embedOrder {
		if isSibling[id] && !placed[id] {
			placed[id] = true
			out = append(out, id)
		}
	}
	for _, id := range siblings {
		if !placed[id] {
			placed[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Sibling is a live child page considered for re-ranking.
type Sibling struct {
	ID         string
	CategoryID *string
}

// RankByCategory applies Rank separately to each category group of
// siblings, which arrive in their existing order. It returns the new
// 1-based page_order of every sibling.
func RankByCategory(embedOrder []string, siblings []Sibling) map[string]int {
	groups := make(map[string][]string)
	keys := []string{}
	for _, s := range siblings {
		k := ""
		if s.CategoryID != nil {
			k = "c:" + *s.CategoryID
		}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], s.ID)
	}

	out := make(map[string]int, len(siblings))
	for _, k := range keys {
		for i, id := range Rank(embedOrder, groups[k]) {
			out[id] = i + 1
		}
	}
	return out
}
