// Package server provides the HTTP server for primal-pages, built on
// Echo v4. It exposes the page, block, content, trash and category API
// to authenticated actors, token issuance behind the admin key, and the
// change feed over WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/primal-host/primal-pages/internal/actor"
	"github.com/primal-host/primal-pages/internal/auth"
	"github.com/primal-host/primal-pages/internal/block"
	"github.com/primal-host/primal-pages/internal/category"
	"github.com/primal-host/primal-pages/internal/config"
	"github.com/primal-host/primal-pages/internal/content"
	"github.com/primal-host/primal-pages/internal/events"
	"github.com/primal-host/primal-pages/internal/page"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// PageService is the page lifecycle used by the handlers.
type PageService interface {
	Create(ctx context.Context, act actor.Actor, p page.CreateParams) (*page.Page, error)
	Get(ctx context.Context, act actor.Actor, id string) (*page.Page, error)
	Access(ctx context.Context, act actor.Actor, id string, write bool) error
	ListMine(ctx context.Context, act actor.Actor, categoryID *string) ([]page.Page, error)
	Update(ctx context.Context, act actor.Actor, id string, p page.UpdateParams) (*page.Page, error)
	Move(ctx context.Context, act actor.Actor, id string, p page.MoveParams) (*page.Page, error)
	Backlinks(ctx context.Context, act actor.Actor, id string) ([]page.Page, error)
	ListTrash(ctx context.Context, act actor.Actor) ([]page.Page, error)
	GetTrash(ctx context.Context, act actor.Actor, id string) (*page.TrashDetail, error)
	RestoreSubtree(ctx context.Context, act actor.Actor, id string, chosenCategoryID *string) (*page.RestoreResult, error)
	PurgeSubtree(ctx context.Context, act actor.Actor, id string) ([]string, error)
}

// BlockService is the block store used by the handlers. Callers check
// page access first.
type BlockService interface {
	List(ctx context.Context, postID string, parentBlockID *string) ([]block.Block, error)
	Create(ctx context.Context, postID string, p block.CreateParams) (*block.Block, error)
	Update(ctx context.Context, postID, blockID string, p block.UpdateParams) (*block.Block, error)
	SoftDelete(ctx context.Context, postID, blockID string) error
	Reorder(ctx context.Context, postID, blockID string, p block.ReorderParams) (*block.Block, error)
}

// ContentService loads and saves whole documents.
type ContentService interface {
	Load(ctx context.Context, act actor.Actor, postID string) (*content.Document, error)
	Save(ctx context.Context, act actor.Actor, postID string, p content.SaveParams) (*content.SaveResult, error)
}

// CategoryService manages categories.
type CategoryService interface {
	List(ctx context.Context, act actor.Actor) ([]category.Category, error)
	Create(ctx context.Context, act actor.Actor, p category.CreateParams) (*category.Category, error)
	Delete(ctx context.Context, act actor.Actor, id string) ([]string, error)
}

// Feed hands out change feed subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, tenantID string, since *int64) (*events.Subscription, error)
}

// Deps are the services the server routes to.
type Deps struct {
	Pages      PageService
	Blocks     BlockService
	Content    ContentService
	Categories CategoryService
	Feed       Feed
	JWT        *auth.JWTManager
}

// Server wraps the Echo instance and application dependencies.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	log  zerolog.Logger

	pages      PageService
	blocks     BlockService
	content    ContentService
	categories CategoryService
	feed       Feed
	jwt        *auth.JWTManager
}

// New creates a configured Echo server with all routes registered.
func New(cfg *config.Config, log zerolog.Logger, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true // We log the listen address ourselves.

	s := &Server{
		echo:       e,
		cfg:        cfg,
		log:        log.With().Str("component", "http").Logger(),
		pages:      d.Pages,
		blocks:     d.Blocks,
		content:    d.Content,
		categories: d.Categories,
		feed:       d.Feed,
		jwt:        d.JWT,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = s.log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	s.registerRoutes()
	return s
}

// ServeHTTP lets the server be mounted or exercised directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins listening for HTTP requests. It blocks until the context
// is cancelled, then performs a graceful shutdown allowing in-flight
// requests to complete.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("listening")
		if err := s.echo.Start(s.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

const actorContextKey = "actor"

// actorFrom returns the actor set by requireActor.
func actorFrom(c echo.Context) actor.Actor {
	act, _ := c.Get(actorContextKey).(actor.Actor)
	return act
}

// requireActor is middleware that validates a Bearer access token and
// sets the calling actor on the request. WebSocket upgrades may pass
// the token as the "token" query parameter instead.
func (s *Server) requireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" && isUpgrade(c.Request()) {
			token = c.QueryParam("token")
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthRequired",
				"message": "Authorization header with Bearer token is required",
			})
		}

		act, err := s.jwt.ValidateAccessToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "InvalidToken",
				"message": "Invalid or expired access token",
			})
		}

		c.Set(actorContextKey, act)
		return next(c)
	}
}

// requireRefresh is middleware that validates a Bearer refresh token.
func (s *Server) requireRefresh(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearer(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthRequired",
				"message": "Authorization header with Bearer token is required",
			})
		}

		act, err := s.jwt.ValidateRefreshToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "InvalidToken",
				"message": "Invalid or expired refresh token",
			})
		}

		c.Set(actorContextKey, act)
		return next(c)
	}
}

// adminAuth is middleware that checks the Bearer token against the
// configured admin key hash. Token issuance is protected by it.
func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := extractBearer(c)
		if key == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "AuthRequired",
				"message": "Authorization header with Bearer admin key is required",
			})
		}

		if err := auth.CheckKey(s.cfg.AdminKeyHash, key); err != nil {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error":   "Forbidden",
				"message": "Invalid admin key",
			})
		}

		return next(c)
	}
}

// extractBearer extracts the Bearer token from the Authorization header.
func extractBearer(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
