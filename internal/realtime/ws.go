// README: WebSocket transport for the hub (gorilla/websocket behind a gin route).
package realtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type WSOptions struct {
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	// CheckOrigin overrides the upgrader's same-origin check when set.
	CheckOrigin func(r *http.Request) bool
}

type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     WSOptions
	log      zerolog.Logger
}

func NewWSHandler(hub *Hub, opts WSOptions, log zerolog.Logger) *WSHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8192
	}
	return &WSHandler{
		hub:      hub,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: opts.CheckOrigin},
		opts:     opts,
		log:      log,
	}
}

// Serve upgrades the request and pumps frames until either side closes.
// A credential may be passed up front as ?token= or a bearer header; otherwise the client sends an auth message.
func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := h.hub.Connect(ws)
	defer h.hub.Close(conn.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if token := credential(c.Request); token != "" {
		if _, err := h.hub.Authenticate(ctx, conn.ID(), token); err != nil {
			h.hub.reply(conn, Message{Kind: KindAuthResult, Payload: AuthResult{Success: false, Error: "authentication failed"}})
		}
	}

	go h.writePump(ws, conn)
	h.readPump(ctx, ws, conn)
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	ws.SetReadLimit(h.opts.MaxMessageBytes)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conn", conn.ID()).Msg("websocket read ended")
			}
			return
		}
		if err := h.hub.HandleMessage(ctx, conn.ID(), data); err != nil {
			return
		}
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn *Conn) {
	for {
		select {
		case <-conn.Done():
			return
		case frame := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.MarkBroken()
				h.log.Debug().Err(err).Str("conn", conn.ID()).Msg("websocket write failed")
				return
			}
		}
	}
}

func credential(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}
