package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents streams the caller's tenant change feed as binary CBOR
// frames. With ?cursor=N, events after sequence N are replayed first.
// GET /pages/events
func (s *Server) handleEvents(c echo.Context) error {
	var since *int64
	if v := c.QueryParam("cursor"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return badRequest(c, "cursor must be a non-negative integer")
		}
		since = &n
	}

	act := actorFrom(c)
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug().Err(err).Msg("feed upgrade failed")
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	sub, err := s.feed.Subscribe(ctx, act.TenantID, since)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", act.TenantID).Msg("feed subscribe failed")
		s.closeFeed(ws, websocket.CloseInternalServerErr, "subscribe failed")
		return nil
	}
	defer sub.Close()

	s.log.Info().Str("actor", act.ID).Str("tenant", act.TenantID).Msg("feed connected")

	// Drain client messages so control frames are processed; any read
	// error means the client went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(feedPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done:
			s.closeFeed(ws, websocket.CloseTryAgainLater, "subscription ended")
			return nil
		case frame := <-sub.C:
			_ = ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.log.Debug().Err(err).Str("tenant", act.TenantID).Msg("feed write failed")
				return nil
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) closeFeed(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(feedWriteWait)); err != nil {
		s.log.Debug().Err(err).Msg("feed close failed")
	}
}
