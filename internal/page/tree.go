package page

// Forest is an in-memory adjacency view of one author's pages, loaded
// once per operation so ancestor and descendant walks cost one query.
type Forest struct {
	pages    map[string]*Page
	children map[string][]string
}

// NewForest indexes pages by id and by parent. Children keep the input
// order.
func NewForest(pages []Page) *Forest {
	f := &Forest{
		pages:    make(map[string]*Page, len(pages)),
		children: make(map[string][]string),
	}
	for i := range pages {
		p := &pages[i]
		f.pages[p.ID] = p
	}
	for i := range pages {
		p := &pages[i]
		if p.ParentID != nil {
			f.children[*p.ParentID] = append(f.children[*p.ParentID], p.ID)
		}
	}
	return f
}

// Page returns the page with id, or nil.
func (f *Forest) Page(id string) *Page {
	return f.pages[id]
}

// Ancestors returns the parent chain of id, nearest first. The walk
// stops at a root, at a parent outside the forest, or on a repeated id.
func (f *Forest) Ancestors(id string) []string {
	out := []string{}
	seen := map[string]bool{id: true}
	cur := f.pages[id]
	for cur != nil && cur.ParentID != nil {
		pid := *cur.ParentID
		if seen[pid] {
			break
		}
		seen[pid] = true
		if f.pages[pid] == nil {
			break
		}
		out = append(out, pid)
		cur = f.pages[pid]
	}
	return out
}

// Descendants returns every page below id in breadth-first order,
// excluding id itself.
func (f *Forest) Descendants(id string) []string {
	out := []string{}
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range f.children[cur] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// IsAncestor reports whether ancestor appears on the parent chain of id.
func (f *Forest) IsAncestor(ancestor, id string) bool {
	for _, a := range f.Ancestors(id) {
		if a == ancestor {
			return true
		}
	}
	return false
}

// RestoreSet returns id, its ancestors and its descendants, in that
// order, without duplicates.
func (f *Forest) RestoreSet(id string) []string {
	out := []string{id}
	out = append(out, f.Ancestors(id)...)
	out = append(out, f.Descendants(id)...)
	return out
}

// Roots returns the members of set whose parent is not in set, keeping
// set order.
func (f *Forest) Roots(set []string) []string {
	in := make(map[string]bool, len(set))
	for _, id := range set {
		in[id] = true
	}
	out := []string{}
	for _, id := range set {
		p := f.pages[id]
		if p == nil {
			continue
		}
		if p.ParentID == nil || !in[*p.ParentID] {
			out = append(out, id)
		}
	}
	return out
}

// PlaceSibling inserts moving into siblings (which must not contain it):
// just before beforeID if present, otherwise just after afterID if
// present, otherwise at the end.
func PlaceSibling(siblings []string, moving, beforeID, afterID string) []string {
	out := make([]string, 0, len(siblings)+1)
	idx := -1
	if beforeID != "" {
		idx = indexOf(siblings, beforeID)
	}
	if idx < 0 && afterID != "" {
		if i := indexOf(siblings, afterID); i >= 0 {
			idx = i + 1
		}
	}
	if idx < 0 {
		idx = len(siblings)
	}
	out = append(out, siblings[:idx]...)
	out = append(out, moving)
	out = append(out, siblings[idx:]...)
	return out
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
