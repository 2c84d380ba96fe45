// Package hub delivers chat snapshots and notification toasts to connected
// websocket clients. Each connection owns its sessions and its fan-out;
// the hub only tracks connections for registration and shutdown.
package hub

import (
	"sync"

	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/config"
	"github.com/studybuddy/buddychat/internal/store"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients.
type Hub struct {
	svc    *chat.Service
	db     *store.DB
	cfg    *config.Config
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*Client]bool
}

// New creates a hub over the chat service.
func New(svc *chat.Service, db *store.DB, cfg *config.Config, logger *zap.Logger) *Hub {
	return &Hub{
		svc:        svc,
		db:         db,
		cfg:        cfg,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run processes client registration until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("user", client.user.ID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.teardown()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("user", client.user.ID))
		case <-h.done:
			return
		}
	}
}

// Stop ends the run loop and tears down every connected client.
func (h *Hub) Stop() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.teardown()
		delete(h.clients, client)
	}
}
