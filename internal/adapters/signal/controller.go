package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lumora/hearthlink/internal/app"
	"github.com/lumora/hearthlink/internal/config"
	"github.com/lumora/hearthlink/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket endpoint: upgrade, pumps, envelope decode,
// dispatch into the hub.
type Controller struct {
	Hub *app.SignalingHub
	cfg *config.Config
}

func NewController(hub *app.SignalingHub, cfg *config.Config) *Controller {
	return &Controller{Hub: hub, cfg: cfg}
}

// wsSignalConn adapts one gorilla socket to core.SignalConnection. Sends go
// through a buffered channel; a full buffer is backpressure, not blocking.
type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := app.NewConnID()
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, connID, conn)
}
