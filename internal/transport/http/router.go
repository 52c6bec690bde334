package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"chat-relay/internal/config"
	"chat-relay/internal/store"
	"chat-relay/internal/transport/ws"
)

// ClientTokenMiddleware tags every browser with a stable opaque token; the
// relay itself keys state by connection, not by this cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *ws.Controller, st *store.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ChatRelaySessions", sessionStore))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", handleHealth)

	api := r.Group("/api")
	api.GET("/users", handleListUsers(st))
	api.GET("/messages/:room", handleRoomMessages(st, cfg))
	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "transport.http").Str("client", c.GetString("client_token")).Msg("ws endpoint hit")
		ctl.Handle(ctx, c)
	})

	return r
}
