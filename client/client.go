// Package client is a reconnecting websocket client for the relay. It
// redials with the configured backoff policy and re-sends the join event
// after every reconnect, so presence survives transport flaps.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed            = errors.New("client closed")
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Event is one decoded server frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// Identity is replayed on every (re)connect.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type Client struct {
	url     string
	backoff Backoff
	id      Identity

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events chan Event
}

func New(url string, id Identity, backoff Backoff) *Client {
	if backoff.Base <= 0 {
		backoff = DefaultBackoff
	}
	return &Client{
		url:     url,
		backoff: backoff,
		id:      id,
		events:  make(chan Event, 64),
	}
}

// Events delivers decoded server frames. The channel closes when the client
// is closed or the reconnect policy is exhausted.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run dials and reads until ctx is cancelled, Close is called, or the
// backoff policy runs out of attempts.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	attempt := 0
	for {
		if c.isClosed() {
			return ErrClosed
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if c.backoff.Exhausted(attempt + 1) {
				return err
			}
			delay := c.backoff.Delay(attempt)
			attempt++
			log.Warn().Err(err).Str("module", "client").Int("attempt", attempt).Dur("retry_in", delay).Msg("dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		if err := c.Join(); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("join after connect")
		}

		connected := time.Now()
		if err := c.readLoop(ctx, conn); err != nil {
			return err
		}

		// A connection that died right after connecting counts as a failed
		// attempt; otherwise a flapping server induces a zero-delay redial
		// loop.
		if c.backoff.Stable(time.Since(connected)) {
			attempt = 0
			continue
		}
		if c.backoff.Exhausted(attempt + 1) {
			return ErrAttemptsExhausted
		}
		delay := c.backoff.Delay(attempt)
		attempt++
		log.Warn().Str("module", "client").Int("attempt", attempt).Dur("retry_in", delay).Msg("connection died early")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return ErrClosed
			}
			log.Warn().Err(err).Str("module", "client").Msg("read error, reconnecting")
			return nil
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad server frame")
			continue
		}
		ev.Data = data
		select {
		case c.events <- ev:
		default:
			log.Debug().Str("module", "client").Str("type", ev.Type).Msg("event buffer full, dropping")
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Join() error {
	return c.send(map[string]any{
		"type":     "join",
		"userId":   c.id.UserID,
		"username": c.id.Username,
		"email":    c.id.Email,
		"avatar":   c.id.Avatar,
	})
}

func (c *Client) JoinRoom(roomID string) error {
	return c.send(map[string]any{"type": "joinRoom", "roomId": roomID, "userId": c.id.UserID})
}

func (c *Client) SendMessage(receiver, body, room, messageType string) error {
	return c.send(map[string]any{
		"type":        "sendMessage",
		"sender":      c.id.UserID,
		"receiver":    receiver,
		"message":     body,
		"room":        room,
		"messageType": messageType,
	})
}

func (c *Client) Typing(room string, isTyping bool) error {
	return c.send(map[string]any{"type": "typing", "room": room, "user": c.id.UserID, "isTyping": isTyping})
}

func (c *Client) MarkAsRead(messageID, sender string) error {
	return c.send(map[string]any{"type": "markAsRead", "messageId": messageID, "userId": c.id.UserID, "sender": sender})
}

func (c *Client) RequestHistory(room string, limit, skip int) error {
	return c.send(map[string]any{"type": "getChatHistory", "room": room, "limit": limit, "skip": skip})
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}
