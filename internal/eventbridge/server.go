package eventbridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

// EventMarketUpdate carries a fresh overview payload from the analysis side
const EventMarketUpdate = "MARKET_UPDATE"

// Event is one JSON message delivered over a short-lived connection
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes received events
type Handler func(Event)

// Config holds event bridge settings. Port 0 picks an ephemeral port.
type Config struct {
	Port        int
	ReadTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
}

// Server accepts one JSON event per connection and dispatches it to the
// handlers subscribed for its type.
type Server struct {
	config Config
	log    *logger.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	catchAll []Handler
	ln       net.Listener
	running  bool

	stop chan struct{}
	done chan struct{}
}

// NewServer creates an event bridge bound to the configured port
func NewServer(config Config, log *logger.Logger) *Server {
	config.applyDefaults()

	return &Server{
		config:   config,
		log:      log,
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for one event type
func (s *Server) Subscribe(eventType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type
func (s *Server) SubscribeAll(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catchAll = append(s.catchAll, h)
}

// Start begins accepting event connections. Calling Start on a running
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

	s.log.Infow("Event bridge started", "port", ln.Addr().(*net.TCPAddr).Port)
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

	var wg sync.WaitGroup
	defer wg.Wait()

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

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

// handleConn reads the single JSON object the sender pushes before
// closing its side of the connection.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

	data, err := io.ReadAll(conn)
	if err != nil {
		s.log.Warnw("Event read failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Warnw("Dropping malformed event", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	s.dispatch(event)
}

func (s *Server) dispatch(event Event) {
	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[event.Type]...)
	handlers = append(handlers, s.catchAll...)
	s.mu.Unlock()

	if len(handlers) == 0 {
		s.log.Debugw("No handler for event", "type", event.Type)
		return
	}

	for _, h := range handlers {
		s.invoke(h, event)
	}
}

func (s *Server) invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Event handler panicked", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}

// Stop closes the listener and waits for in-flight connections
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	_ = s.ln.Close()
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Infow("Event bridge stopped")
}
