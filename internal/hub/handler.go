package hub

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/studybuddy/buddychat/internal/identity"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon is bound to loopback; browser pages served from file:// or
	// localhost both need to connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades an authenticated request to a websocket connection and
// registers the client with the hub. The token comes from the Authorization
// header or, for browser WebSocket clients that cannot set headers, the
// token query parameter.
func (h *Hub) Handler(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, err := identity.Verify(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(h, conn, user)
		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}
		client.run()
	}
}

func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return c.Query("token")
}
