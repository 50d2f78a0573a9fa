// Package connectivity provides the online/offline signal the router and
// scheduler consult. The signal is readable synchronously at call time.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldsync/fieldsync/internal/logging"
)

// Signal reports whether the device is online right now.
type Signal interface {
	Online() bool
}

// Static is a fixed Signal, useful for tests and forced-offline mode.
type Static bool

// Online implements Signal.
func (s Static) Online() bool { return bool(s) }

// Monitor probes a health endpoint periodically and keeps an atomically
// readable online flag. Transitions invoke the registered callback.
type Monitor struct {
	probeURL   string
	interval   time.Duration
	httpClient *http.Client
	online     atomic.Bool

	mu        sync.Mutex
	onChange  func(online bool)
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor. The device is assumed online initially.
func NewMonitor(probeURL string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &Monitor{
		probeURL:   probeURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		stopCh:     make(chan struct{}),
	}
	m.online.Store(true)
	return m
}

// Online implements Signal. It is a synchronous read and never probes.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline forces the online flag, firing the change callback on a
// transition. The probe loop also feeds this.
func (m *Monitor) SetOnline(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	logging.Info("Connectivity changed",
		map[string]interface{}{"was_online": was, "is_online": online})

	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(online)
	}
}

// OnChange registers a callback invoked on every online/offline transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start begins the background probe loop.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop stops the probe loop and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// probeLoop checks the health endpoint until stopped.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}

// probe performs one reachability check.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
