// Package client owns the socket lifecycle of the regime feed: connect,
// read lines, retry on failure. The read loop runs on one dedicated
// goroutine; decoded updates are posted to the dispatch queue, where the
// shared aggregate is mutated. The loop itself never touches the state lock.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"regimesync/internal/dispatch"
	"regimesync/internal/domain/regime"
	"regimesync/internal/metrics"
	"regimesync/internal/sampler"
	"regimesync/internal/wire"
	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
	"regimesync/pkg/reconnect"
)

// RunState is the connection lifecycle state
type RunState int32

const (
	StateIdle RunState = iota
	StateConnecting
	StateStreaming
	StateStopped
)

// String returns a display name for the state
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observer is invoked on the dispatch goroutine after every successful apply
type Observer func(regime.Snapshot)

// Config configures the feed connection
type Config struct {
	Host        string        // default 127.0.0.1
	Port        int           // producer broadcast port
	DialTimeout time.Duration // default 5s
	RetryDelay  time.Duration // fixed delay between attempts, default 5s
	StopTimeout time.Duration // bounded wait for the loop on Stop, default 3s
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 3 * time.Second
	}
}

// Manager runs the reconnecting read loop against the producer
type Manager struct {
	config   Config
	affinity regime.Affinity

	state   *regime.State
	sampler *sampler.PriceSampler
	queue   *dispatch.Queue
	rc      *reconnect.Manager

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	conn      net.Conn
	observers []Observer

	runState atomic.Int32

	log *logger.Logger
}

// NewManager creates a feed manager. The affinity decides which producer
// fields are read; with no affinity the client still tracks regime labels
// but stays idle with respect to price and levels.
func NewManager(
	config Config,
	affinity regime.Affinity,
	state *regime.State,
	priceSampler *sampler.PriceSampler,
	queue *dispatch.Queue,
	log *logger.Logger,
) *Manager {
	config.applyDefaults()

	return &Manager{
		config:   config,
		affinity: affinity,
		state:    state,
		sampler:  priceSampler,
		queue:    queue,
		rc: reconnect.NewManager(reconnect.Config{
			Delay: config.RetryDelay,
		}, log),
		log: log.With("component", "feed_client"),
	}
}

// AddObserver registers a post-apply observer. Must be called before Start.
func (m *Manager) AddObserver(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// State returns the current lifecycle state
func (m *Manager) State() RunState {
	return RunState(m.runState.Load())
}

// Start launches the read loop. Starting an already-running manager is a
// no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.log.Debug("Start ignored, feed already running")
		return
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	m.log.Infow("Starting regime feed",
		"addr", m.addr(),
		"affinity", string(m.affinity),
		"retry_delay", m.config.RetryDelay,
	)

	go m.run(m.stop, m.done)
}

// Stop signals the loop to exit and waits for it with a bounded timeout.
// A blocked read is unblocked by closing the socket; if the loop still does
// not exit in time, Stop gives up and returns ErrFeedStopTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stop)
	if m.conn != nil {
		m.conn.Close()
	}
	done := m.done
	timeout := m.config.StopTimeout
	m.mu.Unlock()

	select {
	case <-done:
		m.log.Info("Regime feed stopped")
		return nil
	case <-time.After(timeout):
		m.log.Warnw("Regime feed did not stop in time, proceeding",
			"timeout", timeout,
		)
		return errors.ErrFeedStopTimeout
	}
}

func (m *Manager) addr() string {
	return fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
}

func (m *Manager) stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (m *Manager) run(stop, done chan struct{}) {
	defer close(done)
	defer m.runState.Store(int32(StateStopped))

	// Retry waits go through the reconnect manager so shutdown cancels
	// them instead of sleeping out the remaining delay.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		if m.stopped(stop) {
			return
		}

		m.runState.Store(int32(StateConnecting))

		conn, err := net.DialTimeout("tcp", m.addr(), m.config.DialTimeout)
		if err != nil {
			// Refused/timeout/unreachable all land here: retry after
			// the fixed delay, never surface to the caller.
			metrics.FeedReconnects.WithLabelValues("failed").Inc()
			m.rc.RecordFailure()

			if m.rc.Wait(ctx) != nil {
				return
			}
			continue
		}

		metrics.FeedReconnects.WithLabelValues("success").Inc()
		m.rc.RecordSuccess()

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		m.runState.Store(int32(StateStreaming))
		metrics.FeedConnected.Set(1)
		m.log.Infow("Connected to regime feed", "addr", m.addr())

		m.stream(conn, stop)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
		metrics.FeedConnected.Set(0)

		if m.stopped(stop) {
			return
		}

		m.rc.RecordFailure()
		if m.rc.Wait(ctx) != nil {
			return
		}
	}
}

// stream reads lines until end-of-stream, an I/O error or shutdown
func (m *Manager) stream(conn net.Conn, stop chan struct{}) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if m.stopped(stop) {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		metrics.FeedLinesReceived.Inc()
		m.rc.RecordMessageReceived()
		m.handleLine(line)
	}

	if err := scanner.Err(); err != nil && !m.stopped(stop) {
		m.log.Warnw("Feed read error", "error", err)
	} else {
		m.log.Info("Feed stream closed by producer")
	}
}

// handleLine decodes on the reader goroutine, then posts the apply pipeline
// to the dispatch queue. The sampled instrument price is read there, not
// here, because it belongs to the render context.
func (m *Manager) handleLine(line string) {
	update := wire.DecodeUpdate(line, m.affinity)

	if update.Regime == regime.LabelUnknown {
		metrics.FeedDecodeErrors.WithLabelValues("regime").Inc()
	}

	m.queue.Post(func() {
		err := m.state.Apply(update, m.sampler.Latest(), time.Now())
		metrics.RecordApply(err)
		if err != nil {
			m.log.Errorw("Apply failed, prior state preserved", "error", err)
			return
		}

		snap := m.state.Snapshot()
		metrics.RegimeCode.Set(float64(snap.Record.Code))
		metrics.GammaLevels.Set(float64(len(snap.Levels)))

		m.mu.Lock()
		observers := m.observers
		m.mu.Unlock()
		for _, obs := range observers {
			obs(snap)
		}
	})
}
