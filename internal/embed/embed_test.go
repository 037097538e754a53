package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/document"
)

func linkBlock(t *testing.T, target, display string) block.Block {
	t.Helper()
	attrs := map[string]any{"pageId": target}
	if display != "" {
		attrs["display"] = display
	}
	p, err := document.Describe("parent", document.NewNode("page_link", attrs))
	require.NoError(t, err)
	return block.Block{BlockType: p.BlockType, Content: p.Content, RefPostID: p.RefPostID}
}

func TestTargets(t *testing.T) {
	para, err := document.Describe("parent", document.NewNode("paragraph", nil, document.TextNode("hi")))
	require.NoError(t, err)

	deleted := linkBlock(t, "d", "embed")
	deleted.IsDeleted = true

	blocks := []block.Block{
		linkBlock(t, "b", "embed"),
		{BlockType: para.BlockType, Content: para.Content},
		linkBlock(t, "inline", ""),
		linkBlock(t, "a", "embed"),
		linkBlock(t, "b", "embed"),
		deleted,
		{BlockType: block.TypePageLink, Content: []byte(`{"node":{"type":"page_link","attrs":{"display":"embed"}}}`)},
	}
	assert.Equal(t, []string{"b", "a"}, Targets(blocks))
	assert.Empty(t, Targets(nil))
}

func TestDiff(t *testing.T) {
	p := Diff([]string{"a", "b", "c"}, []string{"c", "d"})
	assert.Equal(t, []string{"a", "b"}, p.Remove)
	assert.Equal(t, []string{"c", "d"}, p.Restore)
	assert.Equal(t, []string{"c", "d"}, p.Order)

	p = Diff(nil, []string{"x"})
	assert.Empty(t, p.Remove)
	assert.Equal(t, []string{"x"}, p.Restore)
}

func TestRank(t *testing.T) {
	tests := []struct {
		name     string
		embeds   []string
		siblings []string
		want     []string
	}{
		{"embeds lead in document order", []string{"c", "a"}, []string{"a", "b", "c", "d"}, []string{"c", "a", "b", "d"}},
		{"foreign embeds skipped", []string{"z", "b"}, []string{"a", "b"}, []string{"b", "a"}},
		{"no embeds keeps order", nil, []string{"a", "b"}, []string{"a", "b"}},
		{"duplicates collapse", []string{"b", "b"}, []string{"a", "b"}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rank(tt.embeds, tt.siblings))
		})
	}
}

func TestRankByCategory(t *testing.T) {
	work, home := "work", "home"
	siblings := []Sibling{
		{ID: "a", CategoryID: &work},
		{ID: "b", CategoryID: &home},
		{ID: "c", CategoryID: &work},
		{ID: "d"},
		{ID: "e", CategoryID: &home},
	}

	got := RankByCategory([]string{"e", "c", "z"}, siblings)
	assert.Equal(t, map[string]int{
		"c": 1, "a": 2,
		"e": 1, "b": 2,
		"d": 1,
	}, got)

	assert.Empty(t, RankByCategory([]string{"a"}, nil))
}
