package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/meshstats/pkg/config"
	"github.com/nicktill/meshstats/pkg/observability"
	"github.com/nicktill/meshstats/pkg/sample"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header means a non-browser client
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// LatestUpdate is pushed to websocket clients after every ingest
type LatestUpdate struct {
	Type   string         `json:"type"`
	Record *sample.Record `json:"record"`
}

// Hub fans latest records out to websocket clients
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{} // closed when Run returns

	metrics *observability.Metrics
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *observability.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

// Run starts the hub's main loop. A hub runs once; after Run returns new
// connections are closed on arrival.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			h.setClients(0)
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.setClients(count)
			h.logger.Debug("websocket client connected", zap.Int("clients", count))
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.setClients(count)
			h.logger.Debug("websocket client disconnected", zap.Int("clients", count))
		case message := <-h.broadcast:
			// Failed clients are dropped here; sending them to h.unregister
			// would block Run on its own channel.
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Debug("websocket write failed", zap.Error(err))
					delete(h.clients, conn)
					conn.Close()
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.setClients(count)
		}
	}
}

// BroadcastLatest queues rec for every client. Never blocks; a full queue
// drops the update.
func (h *Hub) BroadcastLatest(rec *sample.Record) {
	if rec == nil || !h.HasClients() {
		return
	}
	message, err := json.Marshal(LatestUpdate{Type: "latest", Record: rec})
	if err != nil {
		h.logger.Warn("failed to encode latest record", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping update", zap.String("role", string(rec.Role)))
	}
}

// HasClients returns true if there are any connected clients
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

func (h *Hub) setClients(n int) {
	if h.metrics != nil {
		h.metrics.SetWebsocketClients(n)
	}
}

// HandleWebSocket upgrades the request and keeps the connection alive until
// the client goes away
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	select {
	case <-h.done:
		conn.Close()
		return
	default:
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- conn:
		case <-h.done:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Reads only serve control frames and close detection
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
