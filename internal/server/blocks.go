package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/document"
)

// handleListBlocks lists live blocks of one scope in key order.
// GET /pages/:id/blocks?parentBlockId=
func (s *Server) handleListBlocks(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")
	if err := s.pages.Access(ctx, actorFrom(c), postID, false); err != nil {
		return s.writeError(c, err)
	}

	blocks, err := s.blocks.List(ctx, postID, optionalParam(c.QueryParam("parentBlockId")))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"blocks": blocks,
	})
}

type createBlockRequest struct {
	ParentBlockID   *string          `json:"parentBlockId"`
	BlockType       string           `json:"blockType"`
	Content         json.RawMessage  `json:"content"`
	ContentText     *string          `json:"contentText"`
	RefPostID       *string          `json:"refPostId"`
	ExternalEmbedID *string          `json:"externalEmbedId"`
	PMSchemaVersion int              `json:"pmSchemaVersion"`
	SortKey         *decimal.Decimal `json:"sortKey"`
	BeforeBlockID   string           `json:"beforeBlockId"`
	AfterBlockID    string           `json:"afterBlockId"`
}

// handleCreateBlock inserts a single block. When content carries a
// node, type, text and references are derived from it unless given.
// POST /pages/:id/blocks
func (s *Server) handleCreateBlock(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")
	if err := s.pages.Access(ctx, actorFrom(c), postID, true); err != nil {
		return s.writeError(c, err)
	}

	var req createBlockRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	p := block.CreateParams{}
	if len(req.Content) > 0 {
		n, err := document.NodeFromContent(req.Content)
		if err != nil {
			return badRequest(c, "content must be a document node")
		}
		if p, err = document.Describe(postID, n); err != nil {
			return s.writeError(c, err)
		}
	}
	if req.BlockType != "" {
		p.BlockType = req.BlockType
	}
	if req.ContentText != nil {
		p.ContentText = *req.ContentText
	}
	if req.RefPostID != nil {
		p.RefPostID = req.RefPostID
	}
	if req.ExternalEmbedID != nil {
		p.ExternalEmbedID = req.ExternalEmbedID
	}
	p.ParentBlockID = optionalPtr(req.ParentBlockID)
	p.PMSchemaVersion = req.PMSchemaVersion
	p.SortKey = req.SortKey
	p.BeforeBlockID = req.BeforeBlockID
	p.AfterBlockID = req.AfterBlockID

	b, err := s.blocks.Create(ctx, postID, p)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

type updateBlockRequest struct {
	BlockType       *string         `json:"blockType"`
	Content         json.RawMessage `json:"content"`
	ContentText     *string         `json:"contentText"`
	RefPostID       *string         `json:"refPostId"`
	ExternalEmbedID *string         `json:"externalEmbedId"`
	PMSchemaVersion *int            `json:"pmSchemaVersion"`
}

// handleUpdateBlock applies a partial update.
// PATCH /pages/:id/blocks/:blockId
func (s *Server) handleUpdateBlock(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")
	if err := s.pages.Access(ctx, actorFrom(c), postID, true); err != nil {
		return s.writeError(c, err)
	}

	var req updateBlockRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	p := block.UpdateParams{
		BlockType:       req.BlockType,
		ContentText:     req.ContentText,
		RefPostID:       req.RefPostID,
		ExternalEmbedID: req.ExternalEmbedID,
		PMSchemaVersion: req.PMSchemaVersion,
	}
	if len(req.Content) > 0 {
		n, err := document.NodeFromContent(req.Content)
		if err != nil {
			return badRequest(c, "content must be a document node")
		}
		wrapped, err := document.EncodeContent(postID, n)
		if err != nil {
			return s.writeError(c, err)
		}
		p.Content = wrapped
		if p.ContentText == nil {
			text := document.ExtractText(n)
			p.ContentText = &text
		}
	}
	if p.Empty() {
		return badRequest(c, "no fields to update")
	}

	b, err := s.blocks.Update(ctx, postID, c.Param("blockId"), p)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// handleDeleteBlock soft-deletes a block.
// DELETE /pages/:id/blocks/:blockId
func (s *Server) handleDeleteBlock(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")
	if err := s.pages.Access(ctx, actorFrom(c), postID, true); err != nil {
		return s.writeError(c, err)
	}

	if err := s.blocks.SoftDelete(ctx, postID, c.Param("blockId")); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{
		"ok": true,
	})
}

type reorderBlockRequest struct {
	ParentBlockID *string `json:"parentBlockId"`
	BeforeBlockID string  `json:"beforeBlockId"`
	AfterBlockID  string  `json:"afterBlockId"`
}

// handleReorderBlock moves a block to a new parent and position.
// POST /pages/:id/blocks/:blockId/reorder
func (s *Server) handleReorderBlock(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("id")
	if err := s.pages.Access(ctx, actorFrom(c), postID, true); err != nil {
		return s.writeError(c, err)
	}

	var req reorderBlockRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	b, err := s.blocks.Reorder(ctx, postID, c.Param("blockId"), block.ReorderParams{
		ParentBlockID: optionalPtr(req.ParentBlockID),
		BeforeBlockID: req.BeforeBlockID,
		AfterBlockID:  req.AfterBlockID,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
