package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/app"
	"github.com/okram/tunesync/internal/core"
)

const writeWait = 5 * time.Second

// Controller upgrades HTTP requests to websockets and pumps frames between
// the socket and the Router. All room logic lives behind the Router; the
// controller only moves bytes and reports disconnects.
type Controller struct {
	Router *app.Router

	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle serves one client connection until it drops.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	// The cookie token identifies a browser across reconnects; the
	// session id must be unique per socket, two tabs included.
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "ws").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new connection")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	wc := newConn(conn)
	member := ctl.Router.Connect(sid, wc)
	log.Info().Str("module", "ws").Str("sid", string(sid)).Str("member", string(member.ID)).Msg("session started")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, wc)
	go ctl.readPump(ctx, cancel, sid, wc)
}

// writePump owns all writes to the socket: queued frames plus the liveness
// pings the read deadline depends on.
func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "ws").Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound envelopes to the Router. A peer that stops
// answering pings times out the read deadline and exits through the same
// path as a clean close: Disconnect once, then tear down the transport.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *Conn) {
	defer func() {
		log.Info().Str("module", "ws").Str("sid", string(sid)).Msg("connection closed")
		ctl.Router.Disconnect(sid)
		cancel()
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("sid", string(sid)).Msg("read ended")
				return
			}
			ctl.Router.HandleMessage(sid, data)
		}
	}
}
