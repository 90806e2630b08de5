// Package signal is the duplex-transport adapter: it upgrades HTTP to a
// websocket, authenticates the peer, and dispatches JSON envelopes to the
// application services.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/app"
	"github.com/mystline/advisory/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Registry *app.Registry
	Sessions *app.SessionManager
	Delivery *app.MessageDelivery
	Relay    *app.SignalRelay

	Limiter    *MessageRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(reg *app.Registry, sm *app.SessionManager, md *app.MessageDelivery, relay *app.SignalRelay) *Controller {
	return &Controller{
		Registry:   reg,
		Sessions:   sm,
		Delivery:   md,
		Relay:      relay,
		Limiter:    NewMessageRateLimiter(30, time.Second),
		ReadLimit:  32 * 1024,
		PingPeriod: 54 * time.Second,
	}
}

// peer is one websocket's view of the world: the connection plus whatever
// user authenticated on it. uid stays zero until an auth envelope arrives.
type peer struct {
	conn   *wsConn
	cancel context.CancelFunc
	uid    domain.UserID
}

// HandleWS upgrades the request and runs the read/write pumps until either
// side goes away. Registry cleanup happens on the way out.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	ctx, cancel := context.WithCancel(ctx)
	p := &peer{conn: newWSConn(ws), cancel: cancel}

	log.Info().Str("module", "adapters.signal").Str("remote", ws.RemoteAddr().String()).Msg("new WS connection")

	go ctl.writePump(ctx, p.conn)
	go ctl.readPump(ctx, p)
}
