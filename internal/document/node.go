// Package document translates between the tree-shaped document clients
// submit ({type:"doc", content:[...nodes]}) and the flat block records
// the block package persists.
//
// Nodes are a tagged union keyed by their type tag. Known kinds expose
// typed accessors; every node, known or not, keeps its original JSON so
// mapping is total and round-trips verbatim.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is a node's type tag.
type Kind string

// Known node kinds. Anything else is KindOpaque.
const (
	KindParagraph     Kind = "paragraph"
	KindPageLink      Kind = "page_link"
	KindExternalEmbed Kind = "external_embed"
	KindMention       Kind = "mention"
	KindText          Kind = "text"
	KindOpaque        Kind = ""
)

// DisplayEmbed marks a page_link rendered as an embedded child page.
const DisplayEmbed = "embed"

// Node is one element of a document tree.
type Node struct {
	Type    string         `json:"type,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Text    string         `json:"text,omitempty"`
	Content []Node         `json:"content,omitempty"`

	raw json.RawMessage
	odd bool // a known field had an unexpected shape
}

// nodeFields is Node without its methods, for plain (un)marshalling.
type nodeFields struct {
	Type    string         `json:"type,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Text    string         `json:"text,omitempty"`
	Content []Node         `json:"content,omitempty"`
}

// NewNode builds a node programmatically.
func NewNode(typ string, attrs map[string]any, children ...Node) Node {
	return Node{Type: typ, Attrs: attrs, Content: children}
}

// TextNode builds a text leaf.
func TextNode(s string) Node {
	return Node{Type: string(KindText), Text: s}
}

// UnmarshalJSON decodes the known fields and retains the raw bytes.
// It never rejects valid JSON: a field whose shape does not match the
// typed view is left out of it and the node becomes opaque. Only the
// raw bytes are written back, so nothing is lost.
func (n *Node) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return fmt.Errorf("document: node is not valid JSON")
	}
	*n = Node{raw: append(json.RawMessage(nil), trimmed...)}

	var fields map[string]json.RawMessage
	if json.Unmarshal(trimmed, &fields) != nil {
		n.odd = true
		return nil
	}
	if v, ok := fields["type"]; ok && json.Unmarshal(v, &n.Type) != nil {
		n.Type, n.odd = "", true
	}
	if v, ok := fields["attrs"]; ok && !isNull(v) && json.Unmarshal(v, &n.Attrs) != nil {
		n.Attrs, n.odd = nil, true
	}
	if v, ok := fields["text"]; ok && !isNull(v) && json.Unmarshal(v, &n.Text) != nil {
		n.Text, n.odd = "", true
	}
	if v, ok := fields["content"]; ok && !isNull(v) {
		var children []json.RawMessage
		if json.Unmarshal(v, &children) != nil {
			n.odd = true
		} else {
			n.Content = make([]Node, len(children))
			for i, c := range children {
				if err := n.Content[i].UnmarshalJSON(c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// MarshalJSON returns the original bytes when the node was decoded,
// otherwise the known fields.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.raw != nil {
		return n.raw, nil
	}
	return json.Marshal(nodeFields{Type: n.Type, Attrs: n.Attrs, Text: n.Text, Content: n.Content})
}

// Kind returns the node's tag, or KindOpaque for unrecognised types
// and for nodes whose fields did not fit the typed view.
func (n Node) Kind() Kind {
	if n.odd {
		return KindOpaque
	}
	switch k := Kind(n.Type); k {
	case KindParagraph, KindPageLink, KindExternalEmbed, KindMention, KindText:
		return k
	}
	return KindOpaque
}

// PageLink is the typed view of a page_link node.
type PageLink struct {
	PageID  string
	Display string
	Title   string
}

// Embedded reports whether the link is rendered as an embedded child.
func (l PageLink) Embedded() bool {
	return l.Display == DisplayEmbed
}

// AsPageLink returns the page_link view of n.
func (n Node) AsPageLink() (PageLink, bool) {
	if n.Kind() != KindPageLink {
		return PageLink{}, false
	}
	return PageLink{
		PageID:  n.Attr("pageId"),
		Display: n.Attr("display"),
		Title:   n.Attr("title"),
	}, true
}

// ExternalEmbed is the typed view of an external_embed node.
type ExternalEmbed struct {
	EmbedID string
}

// AsExternalEmbed returns the external_embed view of n.
func (n Node) AsExternalEmbed() (ExternalEmbed, bool) {
	if n.Kind() != KindExternalEmbed {
		return ExternalEmbed{}, false
	}
	return ExternalEmbed{EmbedID: n.Attr("externalEmbedId")}, true
}

// Attr returns an attribute rendered as a string. Numeric ids are
// formatted without exponent; missing or non-scalar values yield "".
func (n Node) Attr(key string) string {
	switch v := n.Attrs[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}
