package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"regimesync/pkg/logger"
)

// Manager tracks reconnection attempts for a persistent local connection.
// The producer is assumed to be always available eventually, so the policy
// is a fixed delay between attempts with no retry cap. A multiplier above
// 1.0 turns the delay into capped exponential backoff for callers that
// want it (remote producers, tests).
type Manager struct {
	// Configuration
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64

	// State
	mu                  sync.RWMutex
	currentDelay        time.Duration
	consecutiveFailures int
	totalReconnects     int

	// Heartbeat tracking
	lastMessageTime atomic.Int64 // Unix timestamp in seconds

	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	Delay      time.Duration // Delay between attempts (default 5s)
	MaxDelay   time.Duration // Cap when Multiplier > 1 (default Delay)
	Multiplier float64       // Delay growth factor (default 1.0, fixed delay)
}

// NewManager creates a new reconnect manager with sensible defaults
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.Delay == 0 {
		config.Delay = 5 * time.Second
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = config.Delay
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 1.0
	}

	return &Manager{
		delay:        config.Delay,
		maxDelay:     config.MaxDelay,
		multiplier:   config.Multiplier,
		currentDelay: config.Delay,
		logger:       log,
	}
}

// RecordMessageReceived updates the last message timestamp.
// Call this every time a line is received from the connection.
func (m *Manager) RecordMessageReceived() {
	m.lastMessageTime.Store(time.Now().Unix())
}

// LastMessageTime returns when the last line arrived (zero if none yet)
func (m *Manager) LastMessageTime() time.Time {
	ts := m.lastMessageTime.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// Delay returns the current wait before the next attempt
func (m *Manager) Delay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentDelay
}

// RecordFailure records a failed connect or a dropped stream
func (m *Manager) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutiveFailures++

	next := time.Duration(float64(m.currentDelay) * m.multiplier)
	if next > m.maxDelay {
		next = m.maxDelay
	}
	m.currentDelay = next

	m.logger.Warnw("Connection lost, will retry",
		"consecutive_failures", m.consecutiveFailures,
		"retry_in", m.currentDelay,
	)
}

// RecordSuccess records an established connection and resets the delay
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consecutiveFailures > 0 {
		m.logger.Infow("Reconnected",
			"previous_consecutive_failures", m.consecutiveFailures,
		)
	}

	m.currentDelay = m.delay
	m.consecutiveFailures = 0
	m.totalReconnects++

	m.lastMessageTime.Store(time.Now().Unix())
}

// Wait blocks for the current retry delay or until the context is cancelled.
// Returns ctx.Err() when cancelled, nil when the delay elapsed.
func (m *Manager) Wait(ctx context.Context) error {
	delay := m.Delay()

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats contains reconnection statistics
type Stats struct {
	ConsecutiveFailures  int
	TotalReconnects      int
	CurrentDelay         time.Duration
	LastMessageTime      time.Time
	TimeSinceLastMessage time.Duration
}

// GetStats returns current reconnect manager stats
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lastMsg := m.LastMessageTime()
	sinceLast := time.Duration(0)
	if !lastMsg.IsZero() {
		sinceLast = time.Since(lastMsg)
	}

	return Stats{
		ConsecutiveFailures:  m.consecutiveFailures,
		TotalReconnects:      m.totalReconnects,
		CurrentDelay:         m.currentDelay,
		LastMessageTime:      lastMsg,
		TimeSinceLastMessage: sinceLast,
	}
}
