package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader is shared across all upgrades; CheckOrigin defers to the
// handshake query-parameter check below, which already rejects unwanted
// callers, so every browser origin is accepted here.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientFactory builds the Handler a newly-upgraded connection should run
// under. Separate from Server construction so the gateway can close over
// per-connection state (e.g. a fresh request-scoped logger).
type ClientFactory func() Handler

// Server upgrades incoming /ws requests to WebSocket connections, enforces
// the handshake query-parameter check, and hands each connection to a
// freshly built Client.
type Server struct {
	apiKeyName     string
	integrationKey string
	newHandler     ClientFactory

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewServer builds a Server. apiKeyName/integrationKey come from the
// configured API_KEY_NAME/INTEGRATION_KEY environment variables.
func NewServer(apiKeyName, integrationKey string, heartbeatEvery, heartbeatTimeout time.Duration, newHandler ClientFactory) *Server {
	return &Server{
		apiKeyName:       apiKeyName,
		integrationKey:   integrationKey,
		newHandler:       newHandler,
		heartbeatEvery:   heartbeatEvery,
		heartbeatTimeout: heartbeatTimeout,
		clients:          make(map[*Client]struct{}),
	}
}

// HandleUpgrade is a gin handler for the /ws route: validates the
// handshake key, upgrades the connection, and runs its pumps until the
// client disconnects.
func (s *Server) HandleUpgrade(c *gin.Context) {
	if c.Query(s.apiKeyName) != s.integrationKey {
		slog.Warn("transport: handshake rejected, bad integration key", "remote", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"status": "Invalid"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.newHandler(), s.heartbeatEvery, s.heartbeatTimeout)
	s.track(client)
	defer s.untrack(client)

	client.Run(c.Request.Context())
}

func (s *Server) track(client *Client) {
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(client *Client) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
}

// Shutdown closes every tracked client connection, used during graceful
// server shutdown.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.close()
	}
}
