package fanout

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// Hub pushes snapshots to dashboard clients over websockets. Clients are
// write-only from the hub's point of view; inbound frames are discarded.
type Hub struct {
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn
	ln      net.Listener
	srv     *http.Server
	running bool
}

// NewHub creates a fan-out hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// Start serves the websocket endpoint at /ws on addr. Addr ":0" binds an
// ephemeral port, readable via Port.
func (h *Hub) Start(addr string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)

	h.ln = ln
	h.srv = &http.Server{Handler: mux}
	h.running = true

	go func() {
		if err := h.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Errorw("Fanout server failed", "error", err)
		}
	}()

	h.log.Infow("Fanout hub started", "addr", ln.Addr().String())
	return nil
}

// Port returns the bound port, or 0 when the hub is not running
func (h *Hub) Port() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return 0
	}
	return h.ln.Addr().(*net.TCPAddr).Port
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()

	h.mu.Lock()
	h.clients[id] = conn
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Infow("Dashboard client connected", "client_id", id, "clients", count)

	// Drain inbound frames so pings and close handshakes are processed
	go func() {
		defer h.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.clients[id]; ok {
		_ = conn.Close()
		delete(h.clients, id)
	}
}

// Publish sends one JSON message to every connected client, pruning
// connections that fail to accept the write.
func (h *Hub) Publish(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var dead []string

	for id, conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(v); err != nil {
			h.log.Warnw("Dashboard client dropped", "client_id", id, "error", err)
			dead = append(dead, id)
		}
	}

	for _, id := range dead {
		if conn, ok := h.clients[id]; ok {
			_ = conn.Close()
			delete(h.clients, id)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop shuts down the endpoint and closes all client connections
func (h *Hub) Stop(ctx context.Context) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	srv := h.srv

	for id, conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if err := srv.Shutdown(ctx); err != nil {
		h.log.Warnw("Fanout shutdown", "error", err)
	}
	h.log.Infow("Fanout hub stopped")
}
