package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/adapters/signal"
	"github.com/mystline/advisory/internal/app"
	"github.com/mystline/advisory/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// Deps is everything the transport layer delegates to.
type Deps struct {
	Registry *app.Registry
	Sessions *app.SessionManager
	Delivery *app.MessageDelivery
	Billing  *app.BillingEngine
	Relay    *app.SignalRelay
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("AdvisorySessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Msg("router setup")

	ctl := signal.NewController(deps.Registry, deps.Sessions, deps.Delivery, deps.Relay)
	ctl.ReadLimit = cfg.ReadLimit
	if cfg.PingPeriod > 0 {
		ctl.PingPeriod = cfg.PingPeriod
	}

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	h := &sessionHandlers{deps: deps}
	api.POST("/sessions", h.start)
	api.GET("/sessions/:id", h.status)
	api.POST("/sessions/:id/join", h.join)
	api.POST("/sessions/:id/leave", h.leave)
	api.POST("/sessions/:id/end", h.end)
	api.PUT("/sessions/:id/notes", h.notes)
	api.GET("/sessions/:id/billing", h.billing)
	api.GET("/sessions/:id/messages", h.messages)

	return r
}
