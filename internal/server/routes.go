package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/primal-pages/internal/actor"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// --- Public endpoints (no auth) ---
	s.echo.GET("/healthz", s.handleHealth)

	// --- Token issuance ---
	s.echo.POST("/auth/token", s.handleIssueToken, s.adminAuth)
	s.echo.POST("/auth/refresh", s.handleRefreshToken, s.requireRefresh)

	// --- Actor API ---
	api := s.echo.Group("", s.requireActor)

	api.POST("/pages", s.handleCreatePage)
	api.GET("/pages/mine", s.handleListMine)
	api.GET("/pages/events", s.handleEvents)
	api.PATCH("/pages/:id", s.handleUpdatePage)
	api.POST("/pages/:id/move", s.handleMovePage)
	api.GET("/pages/:id/backlinks", s.handleBacklinks)

	api.GET("/pages/:id/content", s.handleGetContent)
	api.POST("/pages/:id/content", s.handleSaveContent)

	api.GET("/pages/:id/blocks", s.handleListBlocks)
	api.POST("/pages/:id/blocks", s.handleCreateBlock)
	api.PATCH("/pages/:id/blocks/:blockId", s.handleUpdateBlock)
	api.DELETE("/pages/:id/blocks/:blockId", s.handleDeleteBlock)
	api.POST("/pages/:id/blocks/:blockId/reorder", s.handleReorderBlock)

	api.GET("/pages/trash", s.handleListTrash)
	api.GET("/pages/trash/:id", s.handleGetTrash)
	api.POST("/pages/trash/:id/restore", s.handleRestoreTrash)
	api.DELETE("/pages/trash/:id", s.handlePurgeTrash)

	api.GET("/categories", s.handleListCategories)
	api.POST("/categories", s.handleCreateCategory)
	api.DELETE("/categories/:id", s.handleDeleteCategory)
}

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": Version,
	})
}

// handleIssueToken mints an actor token pair. Admin key required.
func (s *Server) handleIssueToken(c echo.Context) error {
	var req actor.Actor
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if !req.Valid() {
		return badRequest(c, "actorId and tenantId are required")
	}

	pair, err := s.jwt.CreateTokenPair(req)
	if err != nil {
		return s.writeError(c, err)
	}
	s.log.Info().Str("actor", req.ID).Str("tenant", req.TenantID).Msg("token issued")
	return c.JSON(http.StatusOK, pair)
}

// handleRefreshToken exchanges a refresh token for a new pair.
func (s *Server) handleRefreshToken(c echo.Context) error {
	pair, err := s.jwt.CreateTokenPair(actorFrom(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}
