package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/notify"
	"github.com/studybuddy/buddychat/internal/session"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384
)

// Client represents one authenticated websocket connection. It owns the
// user's open chat sessions and their notification fan-out; both are torn
// down when the connection goes away.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	user   *identity.User
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	fanout   *notify.FanOut

	closeOnce sync.Once
}

// clientFrame is a command sent by the browser.
type clientFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id,omitempty"`
	Text        string `json:"text,omitempty"`
	Focused     bool   `json:"focused,omitempty"`
}

// serverFrame is an event pushed to the browser.
type serverFrame struct {
	Type         string               `json:"type"`
	RoomKey      string               `json:"room_key,omitempty"`
	RecipientID  string               `json:"recipient_id,omitempty"`
	Messages     []wireMessage        `json:"messages,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Deleted      int                  `json:"deleted,omitempty"`
	Error        string               `json:"error,omitempty"`
	Context      string               `json:"context,omitempty"`
}

type wireMessage struct {
	ID         string `json:"id"`
	RoomKey    string `json:"room_key"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Body       string `json:"body"`
	Timestamp  int64  `json:"timestamp"`
}

func toWire(msgs []store.Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = wireMessage{
			ID:         m.ID,
			RoomKey:    m.RoomKey,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Body:       m.Body,
			Timestamp:  m.Timestamp,
		}
	}
	return out
}

func newClient(h *Hub, conn *websocket.Conn, user *identity.User) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		user:     user,
		logger:   h.logger.With(zap.String("user", user.ID)),
		sessions: make(map[string]*session.Session),
	}
	c.fanout = notify.NewFanOut(h.svc, h.db, h.cfg.Notify, user, c.onNotification, c.logger)
	return c
}

// run starts the fan-out and both pumps. Fan-out failure is not fatal to
// the connection; chat still works without toasts.
func (c *Client) run() {
	if err := c.fanout.Start(); err != nil {
		c.logger.Warn("fan-out start failed", zap.Error(err))
		c.sendError("notifications", err)
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) onNotification(n notify.Notification) {
	c.push(serverFrame{Type: "notification", Notification: &n})
}

func (c *Client) push(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal frame", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer; drop the frame rather than block the core.
		c.logger.Warn("send buffer full, dropping frame", zap.String("type", frame.Type))
	}
}

func (c *Client) sendError(context string, err error) {
	c.push(serverFrame{Type: "error", Context: context, Error: err.Error()})
}

// readPump pumps frames from the websocket connection to the chat core.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.teardown()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("parse", err)
			continue
		}
		c.handle(frame)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (c *Client) handle(frame clientFrame) {
	switch frame.Type {
	case "open":
		c.openSession(frame.RecipientID)
	case "close":
		c.closeSession(frame.RecipientID)
	case "focus":
		c.focusSession(frame.RecipientID, frame.Focused)
	case "send":
		c.sendMessage(frame.RecipientID, frame.Text)
	case "purge":
		c.purgeSession(frame.RecipientID)
	default:
		c.sendError("frame", errors.New("unknown frame type "+frame.Type))
	}
}

func (c *Client) openSession(recipientID string) {
	c.mu.Lock()
	if _, ok := c.sessions[recipientID]; ok {
		c.mu.Unlock()
		return
	}
	s := session.New(c.hub.svc, c.user, recipientID)
	c.sessions[recipientID] = s
	c.mu.Unlock()

	err := s.Open(
		func(msgs []store.Message) {
			c.push(serverFrame{
				Type:        "messages",
				RoomKey:     s.RoomKey(),
				RecipientID: recipientID,
				Messages:    toWire(msgs),
			})
		},
		func(err error) {
			c.sendError("subscription", err)
		},
	)
	if err != nil {
		c.mu.Lock()
		delete(c.sessions, recipientID)
		c.mu.Unlock()
		c.sendError("open", err)
		return
	}
	c.push(serverFrame{Type: "opened", RoomKey: s.RoomKey(), RecipientID: recipientID})
}

func (c *Client) closeSession(recipientID string) {
	c.mu.Lock()
	s, ok := c.sessions[recipientID]
	delete(c.sessions, recipientID)
	c.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (c *Client) focusSession(recipientID string, focused bool) {
	c.mu.Lock()
	s, ok := c.sessions[recipientID]
	c.mu.Unlock()
	if ok {
		s.SetFocused(focused)
	}
}

func (c *Client) sendMessage(recipientID, text string) {
	c.mu.Lock()
	s, ok := c.sessions[recipientID]
	c.mu.Unlock()
	if !ok {
		c.sendError("send", errors.New("no open session with "+recipientID))
		return
	}
	if err := s.Send(text); err != nil {
		// Append failures must be visible; silent loss is unacceptable.
		c.sendError("send", err)
	}
}

func (c *Client) purgeSession(recipientID string) {
	c.mu.Lock()
	s, ok := c.sessions[recipientID]
	c.mu.Unlock()
	if !ok {
		c.sendError("purge", errors.New("no open session with "+recipientID))
		return
	}
	deleted, err := s.Purge()
	if err != nil {
		var partial *chat.PartialPurgeError
		if errors.As(err, &partial) {
			// Report incomplete deletion instead of claiming success.
			c.push(serverFrame{Type: "purged", RoomKey: s.RoomKey(), Deleted: partial.Deleted, Error: partial.Error()})
			return
		}
		c.sendError("purge", err)
		return
	}
	c.push(serverFrame{Type: "purged", RoomKey: s.RoomKey(), Deleted: deleted})
}

// teardown stops the fan-out and closes all sessions exactly once.
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.fanout.Stop()
		c.mu.Lock()
		sessions := c.sessions
		c.sessions = make(map[string]*session.Session)
		c.mu.Unlock()
		for _, s := range sessions {
			s.Close()
		}
		close(c.send)
	})
}
