package broadcaster

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"regimesync/internal/metrics"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// Config holds broadcaster settings. Port 0 picks an ephemeral port,
// readable via Port after Start.
type Config struct {
	Port           int
	WriteTimeout   time.Duration
	SendsPerSecond float64
}

func (c *Config) applyDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendsPerSecond <= 0 {
		c.SendsPerSecond = 10
	}
}

// Server is a TCP fan-out server. Consumers connect and receive one
// newline-terminated JSON object per broadcast. Dead connections are
// pruned on write failure.
type Server struct {
	config  Config
	limiter *rate.Limiter
	log     *logger.Logger

	mu      sync.Mutex
	clients map[string]net.Conn
	ln      net.Listener
	running bool
	last    []byte

	stop chan struct{}
	done chan struct{}
}

// NewServer creates a broadcaster bound to the configured port
func NewServer(config Config, log *logger.Logger) *Server {
	config.applyDefaults()

	return &Server{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.SendsPerSecond), int(config.SendsPerSecond)+1),
		log:     log,
		clients: make(map[string]net.Conn),
	}
}

// Start begins accepting client connections. Calling Start on a running
// server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on port %d", s.config.Port)
	}

	s.ln = ln
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.acceptLoop(ln, s.stop, s.done)

	s.log.Infow("Broadcaster started", "port", ln.Addr().(*net.TCPAddr).Port)
	return nil
}

// Port returns the bound port, or 0 when the server is not running
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) acceptLoop(ln net.Listener, stop, done chan struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			s.log.Warnw("Accept failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		id := uuid.NewString()

		s.mu.Lock()
		s.clients[id] = conn
		count := len(s.clients)
		s.mu.Unlock()

		metrics.BroadcastClients.Set(float64(count))
		s.log.Infow("Client connected", "client_id", id, "remote", conn.RemoteAddr().String(), "clients", count)
	}
}

// Broadcast sends one JSON line to every connected client. Sends beyond
// the configured rate are dropped; the payload is still retained for
// Rebroadcast so late joiners catch up on the next tick.
func (s *Server) Broadcast(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal broadcast payload")
	}

	line := append(data, '\n')

	s.mu.Lock()
	s.last = line
	s.mu.Unlock()

	if !s.limiter.Allow() {
		// Throttled; the retained payload goes out on the next rebroadcast
		return nil
	}

	return s.send(line)
}

// Rebroadcast resends the most recent payload, if any
func (s *Server) Rebroadcast() error {
	s.mu.Lock()
	line := s.last
	s.mu.Unlock()

	if line == nil {
		return nil
	}

	return s.send(line)
}

func (s *Server) send(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.ErrBroadcasterClosed
	}
	if len(s.clients) == 0 {
		return errors.ErrNoClients
	}

	var dead []string

	for id, conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if _, err := conn.Write(line); err != nil {
			s.log.Warnw("Client dropped during send", "client_id", id, "error", err)
			metrics.BroadcastSends.WithLabelValues("error").Inc()
			dead = append(dead, id)
			continue
		}
		metrics.BroadcastSends.WithLabelValues("success").Inc()
	}

	for _, id := range dead {
		if conn, ok := s.clients[id]; ok {
			_ = conn.Close()
			delete(s.clients, id)
		}
	}

	metrics.BroadcastClients.Set(float64(len(s.clients)))
	return nil
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stop closes the listener and all client connections
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	_ = s.ln.Close()

	for id, conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, id)
	}
	done := s.done
	s.mu.Unlock()

	<-done
	metrics.BroadcastClients.Set(0)
	s.log.Infow("Broadcaster stopped")
}
