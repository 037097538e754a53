package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/primal-pages/internal/apperr"
)

// writeError maps a service error onto the JSON error envelope. Only
// unexpected failures are logged; their detail never reaches the client.
func (s *Server) writeError(c echo.Context, err error) error {
	var conflict *apperr.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, map[string]any{
			"error":          "VersionConflict",
			"message":        "Document was changed by another save",
			"currentVersion": conflict.Current,
		})
	case errors.Is(err, apperr.ErrCategoryRequired):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "CATEGORY_REQUIRED",
		})
	case errors.Is(err, apperr.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": err.Error(),
		})
	case errors.Is(err, apperr.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "NotFound",
			"message": err.Error(),
		})
	case errors.Is(err, apperr.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{
			"error":   "Forbidden",
			"message": err.Error(),
		})
	}

	s.log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "InternalError",
		"message": "Internal server error",
	})
}

// badRequest writes a 400 envelope for malformed input.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":   "InvalidRequest",
		"message": msg,
	})
}
