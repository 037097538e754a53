package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func p(id string, parent string) Page {
	pg := Page{ID: id}
	if parent != "" {
		pg.ParentID = &parent
	}
	return pg
}

// root
// ├── a
// │   ├── a1
// │   │   └── a1x
// │   └── a2
// └── b
func sampleForest() *Forest {
	return NewForest([]Page{
		p("root", ""), p("a", "root"), p("b", "root"),
		p("a1", "a"), p("a2", "a"), p("a1x", "a1"),
		p("orphan", "gone"),
	})
}

func TestAncestors(t *testing.T) {
	f := sampleForest()
	assert.Equal(t, []string{"a1", "a", "root"}, f.Ancestors("a1x"))
	assert.Empty(t, f.Ancestors("root"))
	assert.Empty(t, f.Ancestors("orphan"))
	assert.Empty(t, f.Ancestors("unknown"))
}

func TestAncestorsStopsOnCycle(t *testing.T) {
	f := NewForest([]Page{p("x", "y"), p("y", "x")})
	assert.Equal(t, []string{"y"}, f.Ancestors("x"))
}

func TestDescendants(t *testing.T) {
	f := sampleForest()
	assert.Equal(t, []string{"a1", "a2", "a1x"}, f.Descendants("a"))
	assert.Equal(t, []string{"a", "b", "a1", "a2", "a1x"}, f.Descendants("root"))
	assert.Empty(t, f.Descendants("b"))
}

func TestIsAncestorPreventsCycles(t *testing.T) {
	f := sampleForest()
	// Moving a under a1x would make a its own ancestor.
	assert.True(t, f.IsAncestor("a", "a1x"))
	assert.True(t, f.IsAncestor("root", "a1x"))
	assert.False(t, f.IsAncestor("b", "a1x"))
	assert.False(t, f.IsAncestor("a1x", "a"))
}

func TestRestoreSetAndRoots(t *testing.T) {
	f := sampleForest()
	set := f.RestoreSet("a1")
	assert.Equal(t, []string{"a1", "a", "root", "a1x"}, set)
	assert.Equal(t, []string{"root"}, f.Roots(set))

	set = f.RestoreSet("root")
	assert.Equal(t, []string{"root"}, f.Roots(set))

	assert.Equal(t, []string{"a1", "b"}, f.Roots([]string{"a1", "a1x", "b"}))
}

func TestPlaceSibling(t *testing.T) {
	sibs := []string{"s1", "s2", "s3"}
	tests := []struct {
		name          string
		before, after string
		want          []string
	}{
		{"append", "", "", []string{"s1", "s2", "s3", "m"}},
		{"before head", "s1", "", []string{"m", "s1", "s2", "s3"}},
		{"before middle", "s3", "", []string{"s1", "s2", "m", "s3"}},
		{"after middle", "", "s1", []string{"s1", "m", "s2", "s3"}},
		{"after tail", "", "s3", []string{"s1", "s2", "s3", "m"}},
		{"before wins", "s2", "s3", []string{"s1", "m", "s2", "s3"}},
		{"unknown before falls to after", "zz", "s1", []string{"s1", "m", "s2", "s3"}},
		{"unknown both appends", "zz", "yy", []string{"s1", "s2", "s3", "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PlaceSibling(sibs, "m", tt.before, tt.after))
		})
	}
	assert.Equal(t, []string{"m"}, PlaceSibling(nil, "m", "", ""))
}
