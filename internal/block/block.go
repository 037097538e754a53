// Package block owns persistence of the flat block records that make up
// a page's document. Blocks are ordered within (post_id, parent_block_id)
// by a fractional sort key assigned by the order package.
package block

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Well-known block types.
const (
	TypeParagraph     = "paragraph"
	TypePageLink      = "page_link"
	TypeExternalEmbed = "external_embed"
)

// Block is one persisted record.
type Block struct {
	ID              string          `json:"id"`
	PostID          string          `json:"postId"`
	ParentBlockID   *string         `json:"parentBlockId"`
	BlockType       string          `json:"blockType"`
	SortKey         decimal.Decimal `json:"sortKey"`
	Content         json.RawMessage `json:"content"`
	ContentText     string          `json:"contentText"`
	RefPostID       *string         `json:"refPostId,omitempty"`
	ExternalEmbedID *string         `json:"externalEmbedId,omitempty"`
	IsDeleted       bool            `json:"isDeleted"`
	PMSchemaVersion int             `json:"pmSchemaVersion"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
}

// CreateParams holds the fields for a new block. When SortKey is nil
// the key is allocated from BeforeBlockID/AfterBlockID.
type CreateParams struct {
	ParentBlockID   *string
	BlockType       string
	Content         json.RawMessage
	ContentText     string
	RefPostID       *string
	ExternalEmbedID *string
	PMSchemaVersion int
	SortKey         *decimal.Decimal
	BeforeBlockID   string
	AfterBlockID    string
}

// UpdateParams holds a partial update; nil fields are left unchanged.
type UpdateParams struct {
	BlockType       *string
	Content         json.RawMessage
	ContentText     *string
	RefPostID       *string
	ExternalEmbedID *string
	PMSchemaVersion *int
}

// Empty reports whether no field is set.
func (p UpdateParams) Empty() bool {
	return p.BlockType == nil && p.Content == nil && p.ContentText == nil &&
		p.RefPostID == nil && p.ExternalEmbedID == nil && p.PMSchemaVersion == nil
}

// ReorderParams moves a block to a new parent and position.
type ReorderParams struct {
	ParentBlockID *string
	BeforeBlockID string
	AfterBlockID  string
}
