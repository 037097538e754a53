package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/primal-pages/internal/category"
)

// handleListCategories lists categories visible to the caller.
// GET /categories
func (s *Server) handleListCategories(c echo.Context) error {
	cats, err := s.categories.List(c.Request().Context(), actorFrom(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"categories": cats,
	})
}

// handleCreateCategory creates a category.
// POST /categories
func (s *Server) handleCreateCategory(c echo.Context) error {
	var req category.CreateParams
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}

	cat, err := s.categories.Create(c.Request().Context(), actorFrom(c), req)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, cat)
}

// handleDeleteCategory removes a category. Pages filed under it are
// returned so the client can show them as uncategorized.
// DELETE /categories/:id
func (s *Server) handleDeleteCategory(c echo.Context) error {
	orphaned, err := s.categories.Delete(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"orphaned": orphaned,
	})
}
