package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/store"
)

// userView is the directory projection of a presence record.
type userView struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleListUsers(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := st.ListPresence()
		if err != nil {
			log.Error().Err(err).Str("module", "transport.http").Msg("list users")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
			return
		}
		views := lo.Map(users, func(p domain.Presence, _ int) userView {
			return userView{
				UserID:   p.UserID,
				Username: p.Username,
				Email:    p.Email,
				Avatar:   p.Avatar,
				IsOnline: p.Online,
				LastSeen: p.LastSeen,
			}
		})
		c.JSON(http.StatusOK, views)
	}
}

func handleRoomMessages(st *store.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		limit := queryInt(c, "limit", cfg.HistoryLimit)
		skip := queryInt(c, "skip", 0)

		messages, err := st.History(room, limit, skip)
		if err != nil {
			log.Error().Err(err).Str("module", "transport.http").Str("room", room).Msg("room messages")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
			return
		}
		if messages == nil {
			messages = []domain.Message{}
		}
		c.JSON(http.StatusOK, messages)
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
