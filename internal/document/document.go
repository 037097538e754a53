package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/order"
)

// RootType is the type tag of a document root.
const RootType = "doc"

// Doc is a document root.
type Doc struct {
	Type    string `json:"type"`
	Content []Node `json:"content"`
}

// Empty returns a document with no children.
func Empty() *Doc {
	return &Doc{Type: RootType, Content: []Node{}}
}

// Parse decodes a submitted document. A missing type tag is accepted;
// any other tag than "doc" is rejected.
func Parse(data []byte) (*Doc, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("document: empty")
	}
	var d Doc
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	if d.Type == "" {
		d.Type = RootType
	}
	if d.Type != RootType {
		return nil, fmt.Errorf("document: root type %q, want %q", d.Type, RootType)
	}
	if d.Content == nil {
		d.Content = []Node{}
	}
	return &d, nil
}

// Content is the JSON stored in a block's content column: the original
// node plus the owning page id.
type Content struct {
	Node   json.RawMessage `json:"node"`
	PostID string          `json:"post_id"`
}

// EncodeContent wraps a node for storage.
func EncodeContent(postID string, n Node) (json.RawMessage, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("document: encode node: %w", err)
	}
	return json.Marshal(Content{Node: raw, PostID: postID})
}

// NodeFromContent extracts the stored node. Content without a "node"
// key is treated as the node itself.
func NodeFromContent(content json.RawMessage) (Node, error) {
	var c Content
	if err := json.Unmarshal(content, &c); err == nil && len(c.Node) > 0 {
		var n Node
		if err := json.Unmarshal(c.Node, &n); err != nil {
			return Node{}, fmt.Errorf("document: decode stored node: %w", err)
		}
		return n, nil
	}
	var n Node
	if err := json.Unmarshal(content, &n); err != nil {
		return Node{}, fmt.Errorf("document: decode content: %w", err)
	}
	return n, nil
}

// Flatten maps the immediate children of doc to block records with a
// fresh key sequence. Nested structure stays inside each node; only the
// top level becomes blocks.
func Flatten(postID string, doc *Doc, schemaVersion int) ([]block.Block, error) {
	keys := order.Sequence(len(doc.Content))
	out := make([]block.Block, 0, len(doc.Content))

	for i, n := range doc.Content {
		p, err := Describe(postID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, block.Block{
			PostID:          postID,
			BlockType:       p.BlockType,
			SortKey:         keys[i],
			Content:         p.Content,
			ContentText:     p.ContentText,
			RefPostID:       p.RefPostID,
			ExternalEmbedID: p.ExternalEmbedID,
			PMSchemaVersion: schemaVersion,
		})
	}
	return out, nil
}

// Describe derives the stored fields of a single node: its block type
// (paragraph when untagged), wrapped content, plain text and references.
// Placement fields are left to the caller.
func Describe(postID string, n Node) (block.CreateParams, error) {
	content, err := EncodeContent(postID, n)
	if err != nil {
		return block.CreateParams{}, err
	}
	p := block.CreateParams{
		BlockType:   n.Type,
		Content:     content,
		ContentText: ExtractText(n),
	}
	if p.BlockType == "" {
		p.BlockType = block.TypeParagraph
	}

	switch p.BlockType {
	case block.TypePageLink:
		if link, _ := n.AsPageLink(); link.PageID != "" {
			ref := link.PageID
			p.RefPostID = &ref
		}
	case block.TypeExternalEmbed:
		if emb, _ := n.AsExternalEmbed(); emb.EmbedID != "" {
			id := emb.EmbedID
			p.ExternalEmbedID = &id
		}
	}
	return p, nil
}

// Reassemble rebuilds a document from live top-level blocks in key
// order. Anything stored in content beyond the node is dropped.
func Reassemble(blocks []block.Block) (*Doc, error) {
	top := make([]block.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.ParentBlockID == nil && !b.IsDeleted {
			top = append(top, b)
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].SortKey.LessThan(top[j].SortKey) })

	doc := Empty()
	for _, b := range top {
		n, err := NodeFromContent(b.Content)
		if err != nil {
			return nil, fmt.Errorf("document: block %s: %w", b.ID, err)
		}
		doc.Content = append(doc.Content, n)
	}
	return doc, nil
}

// ExtractText concatenates the text-bearing descendants of n. Mentions
// render as "@label" and page links as their title, or "page".
func ExtractText(n Node) string {
	var sb strings.Builder
	writeText(&sb, n)
	return sb.String()
}

func writeText(sb *strings.Builder, n Node) {
	switch n.Kind() {
	case KindText:
		sb.WriteString(n.Text)
		return
	case KindMention:
		label := n.Attr("label")
		if label == "" {
			label = n.Attr("id")
		}
		sb.WriteString("@" + label)
		return
	case KindPageLink:
		if title := n.Attr("title"); title != "" {
			sb.WriteString(title)
		} else {
			sb.WriteString("page")
		}
		return
	}
	for _, c := range n.Content {
		writeText(sb, c)
	}
}

// Fingerprint returns a CIDv1 (raw, sha2-256) of the document's
// canonical JSON. Equal documents get equal fingerprints regardless of
// key order or whitespace in the submitted payload.
func Fingerprint(doc *Doc) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("document: fingerprint marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Errorf("document: fingerprint normalize: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("document: fingerprint canonicalize: %w", err)
	}

	builder := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)
	c, err := builder.Sum(canonical)
	if err != nil {
		return "", fmt.Errorf("document: fingerprint sum: %w", err)
	}
	return c.String(), nil
}
