package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/primal-pages/internal/page"
)

// handleCreatePage creates a page for the caller.
// POST /pages
func (s *Server) handleCreatePage(c echo.Context) error {
	var req page.CreateParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	pg, err := s.pages.Create(c.Request().Context(), actorFrom(c), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, pg)
}

// handleListMine lists the caller's live pages.
// GET /pages/mine?categoryId=
func (s *Server) handleListMine(c echo.Context) error {
	pages, err := s.pages.ListMine(c.Request().Context(), actorFrom(c), optionalParam(c.QueryParam("categoryId")))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pages": pages,
	})
}

// handleUpdatePage changes title, status or icon.
// PATCH /pages/:id
func (s *Server) handleUpdatePage(c echo.Context) error {
	var req page.UpdateParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.Title == nil && req.Status == nil && req.Icon == nil {
		return badRequest(c, "title, status or icon is required")
	}

	pg, err := s.pages.Update(c.Request().Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pg)
}

// handleMovePage reparents and reorders a page.
// POST /pages/:id/move
func (s *Server) handleMovePage(c echo.Context) error {
	var req page.MoveParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if req.TargetParentID != nil && *req.TargetParentID == "" {
		req.TargetParentID = nil
	}

	pg, err := s.pages.Move(c.Request().Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pg)
}

// handleBacklinks lists pages linking to a page.
// GET /pages/:id/backlinks
func (s *Server) handleBacklinks(c echo.Context) error {
	pages, err := s.pages.Backlinks(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"backlinks": pages,
	})
}

// --- Trash ---

// handleListTrash lists the tops of the caller's deleted subtrees.
// GET /pages/trash
func (s *Server) handleListTrash(c echo.Context) error {
	pages, err := s.pages.ListTrash(c.Request().Context(), actorFrom(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pages": pages,
	})
}

// handleGetTrash returns a deleted page with its deleted descendants.
// GET /pages/trash/:id
func (s *Server) handleGetTrash(c echo.Context) error {
	d, err := s.pages.GetTrash(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

type restoreRequest struct {
	CategoryID *string `json:"category_id"`
}

// handleRestoreTrash restores a deleted subtree.
// POST /pages/trash/:id/restore
func (s *Server) handleRestoreTrash(c echo.Context) error {
	var req restoreRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid JSON body")
		}
	}

	res, err := s.pages.RestoreSubtree(c.Request().Context(), actorFrom(c), c.Param("id"), optionalPtr(req.CategoryID))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// handlePurgeTrash permanently deletes a deleted subtree.
// DELETE /pages/trash/:id
func (s *Server) handlePurgeTrash(c echo.Context) error {
	purged, err := s.pages.PurgeSubtree(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"purged": purged,
	})
}

// optionalParam returns nil for an empty string.
func optionalParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// optionalPtr treats a pointer to "" as absent.
func optionalPtr(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
