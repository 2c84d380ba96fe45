package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/studybuddy/buddychat/internal/chat"
	"github.com/studybuddy/buddychat/internal/config"
	"github.com/studybuddy/buddychat/internal/hub"
	"github.com/studybuddy/buddychat/internal/identity"
	"github.com/studybuddy/buddychat/internal/roomkey"
	"go.uber.org/zap"
)

const (
	tokenTTL       = 72 * time.Hour
	historyLimit   = 50
	historyMaxPage = 200
)

// Server manages the HTTP and websocket surface of the daemon.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the gin router and binds it to the configured address.
// Params.ListenAddr overrides the config file, which keeps tests off fixed
// ports.
func NewServer(p Params, cfg *config.Config, logger *zap.Logger, svc *chat.Service, h *hub.Hub) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// Development token mint. The daemon is a local, single-machine service;
	// any caller that can reach it may name an identity.
	router.GET("/token", func(c *gin.Context) {
		user := &identity.User{
			ID:          c.Query("user_id"),
			DisplayName: c.Query("name"),
			Email:       c.Query("email"),
		}
		token, err := identity.Sign(user, cfg.JWTSecret, tokenTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	router.GET("/ws", h.Handler(cfg.JWTSecret))

	authed := router.Group("/", authRequired(cfg.JWTSecret))
	authed.GET("/rooms", listRooms(svc))
	authed.GET("/rooms/:key/messages", listMessages(svc))
	authed.POST("/messages", postMessage(svc))
	authed.DELETE("/rooms/:key/messages", purgeRoom(svc))

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: router,
			// No WriteTimeout: it would sever long-lived websocket
			// connections on /ws.
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown error", zap.Error(err))
	}
}

const userKey = "user"

// authRequired verifies the bearer token and stores the resolved identity in
// the request context.
func authRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		user, err := identity.Verify(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *identity.User {
	return c.MustGet(userKey).(*identity.User)
}

func listRooms(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		rooms, err := svc.RoomsFor(user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	}
}

// participantRoom loads the room and enforces membership. Non-participants
// get 403 regardless of whether the room exists beyond that.
func participantRoom(c *gin.Context, svc *chat.Service) (string, bool) {
	key := c.Param("key")
	user := currentUser(c)
	room, err := svc.Room(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return "", false
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return "", false
	}
	if !room.HasParticipant(user.ID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return "", false
	}
	return key, true
}

func listMessages(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := participantRoom(c, svc)
		if !ok {
			return
		}
		before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
		limit, _ := strconv.Atoi(c.Query("limit"))
		if limit <= 0 {
			limit = historyLimit
		}
		if limit > historyMaxPage {
			limit = historyMaxPage
		}
		msgs, err := svc.History(key, before, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

type postMessageRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Text        string `json:"text" binding:"required"`
}

func postMessage(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req postMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user := currentUser(c)
		key, err := svc.EnsureRoom(user.ID, req.RecipientID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.Append(key, user.ID, user.Name(), req.Text); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, roomkey.ErrSameUser) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"room_key": key})
	}
}

func purgeRoom(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := participantRoom(c, svc)
		if !ok {
			return
		}
		deleted, err := svc.PurgeRoom(key)
		if err != nil {
			var partial *chat.PartialPurgeError
			if errors.As(err, &partial) {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   partial.Error(),
					"deleted": partial.Deleted,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}
