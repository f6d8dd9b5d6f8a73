package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tripsync/auth"
	"tripsync/docstore"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are already open through CORS
	CheckOrigin: func(*http.Request) bool { return true },
}

type docEvent struct {
	Path    string          `json:"path"`
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// canWatch keeps per-user documents private to their owner; trip documents are shared.
func canWatch(id auth.Identity, path string) error {
	switch {
	case strings.HasPrefix(path, "users/"):
		if !strings.HasPrefix(path, "users/"+id.UID+"/") {
			return errForbiddenPath
		}
		return nil
	case strings.HasPrefix(path, "trips/"):
		return nil
	}
	return fmt.Errorf("%w: unknown document %q", errBadBody, path)
}

type wsHandler struct {
	store  *docstore.Store
	logger *slog.Logger
}

// watch streams every change of ?path= to the client as a docEvent.
func (h *wsHandler) watch(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		abortWithError(c, fmt.Errorf("%w: path is required", errBadBody))
		return
	}
	if err := canWatch(IdentityFrom(c), path); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan docEvent, 16)
	unsubscribe, err := h.store.Subscribe(ctx, path, func(ch docstore.Change) {
		ev := docEvent{Path: ch.Doc.Path, Version: ch.Doc.Version, Data: ch.Doc.Data, Deleted: ch.Deleted}
		if ev.Path == "" {
			ev.Path = path
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}, func(err error) {
		h.logger.Warn("document watch error", "path", path, "error", err)
	})
	if err != nil {
		h.logger.Error("failed to subscribe", "path", path, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(wsWriteWait))
		return
	}
	defer unsubscribe()

	// reader: only needed to notice the client going away and to handle pongs
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
