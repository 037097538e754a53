package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/primal-host/primal-pages/internal/content"
)

// handleGetContent returns a page's reassembled document. The stored
// fingerprint doubles as the ETag.
// GET /pages/:id/content
func (s *Server) handleGetContent(c echo.Context) error {
	doc, err := s.content.Load(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}

	if doc.CID != "" {
		etag := `"` + doc.CID + `"`
		if c.Request().Header.Get("If-None-Match") == etag {
			return c.NoContent(http.StatusNotModified)
		}
		c.Response().Header().Set("ETag", etag)
	}
	return c.JSON(http.StatusOK, doc)
}

type saveContentRequest struct {
	DocJSON         json.RawMessage `json:"docJson"`
	Version         *int            `json:"version"`
	PMSchemaVersion int             `json:"pmSchemaVersion"`
}

// handleSaveContent replaces a page's document.
// POST /pages/:id/content
func (s *Server) handleSaveContent(c echo.Context) error {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.cfg.MaxDocBytes)

	var req saveContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error":   "PayloadTooLarge",
				"message": "Document exceeds the size limit",
			})
		}
		return badRequest(c, "Invalid JSON body")
	}

	docJSON, err := unwrapDoc(req.DocJSON)
	if err != nil {
		return badRequest(c, "docJson must be an object or a JSON string")
	}

	res, err := s.content.Save(r.Context(), actorFrom(c), c.Param("id"), content.SaveParams{
		DocJSON:         docJSON,
		ExpectedVersion: req.Version,
		PMSchemaVersion: req.PMSchemaVersion,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	if res.CID != "" {
		c.Response().Header().Set("ETag", `"`+res.CID+`"`)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":       true,
		"version":  res.Version,
		"blocks":   res.Blocks,
		"dropped":  res.Dropped,
		"trashed":  res.Trashed,
		"restored": res.Restored,
	})
}

// unwrapDoc accepts docJson either inline or as a string holding JSON.
func unwrapDoc(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(s)) {
		return nil, errors.New("docJson string is not JSON")
	}
	return json.RawMessage(s), nil
}
