// Package connectivity tracks whether the commerce backend is reachable and
// fans host environment signals out to subscribers.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Signal is a host environment event
type Signal int

const (
	// SignalOnline fires when connectivity is restored
	SignalOnline Signal = iota + 1
	// SignalOffline fires when connectivity is lost
	SignalOffline
	// SignalVisible fires when the host regains visibility
	SignalVisible
)

func (s Signal) String() string {
	switch s {
	case SignalOnline:
		return "online"
	case SignalOffline:
		return "offline"
	case SignalVisible:
		return "visible"
	}
	return "unknown"
}

// Listener receives signals. It is called synchronously and must not block.
type Listener func(Signal)

// Monitor holds the online flag. Online and offline signals fire on
// transitions only; visibility fires on every call.
type Monitor struct {
	online atomic.Bool

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int

	checkURL      string
	checkInterval time.Duration
	checkTimeout  time.Duration
	httpClient    *http.Client
	logger        *zap.Logger
}

// Option configures a Monitor
type Option func(*Monitor)

// WithHealthCheck enables Run to poll url every interval
func WithHealthCheck(url string, interval, timeout time.Duration) Option {
	return func(m *Monitor) {
		m.checkURL = url
		m.checkInterval = interval
		m.checkTimeout = timeout
	}
}

// WithHTTPClient sets the client used for probing
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) {
		m.httpClient = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// StartOffline makes the monitor begin in the offline state
func StartOffline() Option {
	return func(m *Monitor) {
		m.online.Store(false)
	}
}

// NewMonitor creates a monitor that starts online unless StartOffline is given
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		listeners:     make(map[int]Listener),
		checkInterval: 30 * time.Second,
		checkTimeout:  5 * time.Second,
		httpClient:    http.DefaultClient,
		logger:        zap.NewNop(),
	}
	m.online.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline reports the current connectivity state
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records that connectivity was restored
func (m *Monitor) SetOnline() {
	if m.online.CompareAndSwap(false, true) {
		m.logger.Info("connectivity restored")
		m.emit(SignalOnline)
	}
}

// SetOffline records that connectivity was lost
func (m *Monitor) SetOffline() {
	if m.online.CompareAndSwap(true, false) {
		m.logger.Warn("connectivity lost")
		m.emit(SignalOffline)
	}
}

// SignalVisible notifies subscribers that the host became visible again
func (m *Monitor) SignalVisible() {
	m.emit(SignalVisible)
}

// Subscribe registers a listener and returns a function removing it
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) emit(s Signal) {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		m.dispatch(l, s)
	}
}

func (m *Monitor) dispatch(l Listener, s Signal) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", zap.Stringer("signal", s), zap.Any("panic", r))
		}
	}()
	l(s)
}

// Check requests the health URL once and updates the state. Any HTTP response
// counts as reachable; only transport errors mark the monitor offline.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.checkURL == "" {
		return m.IsOnline()
	}

	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.checkURL, nil)
	if err != nil {
		m.logger.Error("invalid health check url", zap.String("url", m.checkURL), zap.Error(err))
		return m.IsOnline()
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug("connectivity check failed", zap.Error(err))
		m.SetOffline()
		return false
	}
	resp.Body.Close()
	m.SetOnline()
	return true
}

// Run checks periodically until ctx is done. It returns immediately when no
// health URL is configured.
func (m *Monitor) Run(ctx context.Context) {
	if m.checkURL == "" || m.checkInterval <= 0 {
		return
	}

	m.Check(ctx)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
