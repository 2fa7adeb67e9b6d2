// Package netmon observes host connectivity and publishes it as a live
// signal.
//
// The engine consumes the Monitor interface so the connectivity source is a
// swappable capability: production uses ProbeMonitor (periodic reachability
// probe against the sync backend), tests and embedders that already know
// their connectivity state use Manual.
package netmon

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pocketsync/pocketsync/internal/signal"
)

// Monitor exposes current and future connectivity transitions.
type Monitor interface {
	// Online returns a synchronous snapshot of connectivity.
	Online() bool

	// Subscribe registers a callback with replay-latest semantics: it fires
	// once immediately with the current status, then once per transition.
	Subscribe(cb func(online bool)) signal.Subscription
}

// Manual is a Monitor whose status is set by the embedding application
// (e.g. from a platform connectivity event it already receives).
type Manual struct {
	status *signal.Bool
}

// NewManual creates a Manual monitor with the given initial status.
func NewManual(online bool) *Manual {
	return &Manual{status: signal.NewBool(online)}
}

// Online implements Monitor.
func (m *Manual) Online() bool { return m.status.Get() }

// Subscribe implements Monitor.
func (m *Manual) Subscribe(cb func(bool)) signal.Subscription {
	return m.status.Subscribe(cb)
}

// SetOnline publishes a connectivity transition.
func (m *Manual) SetOnline(online bool) { m.status.Set(online) }

// Prober answers a single reachability question.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes connectivity by issuing a HEAD request against a URL,
// typically the sync backend's health endpoint. Any HTTP response counts as
// online; only transport failure counts as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// ProbeMonitor polls a Prober on an interval and publishes transitions.
type ProbeMonitor struct {
	prober   Prober
	interval time.Duration
	status   *signal.Bool
	logger   *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewProbeMonitor creates a ProbeMonitor. It starts offline; the first probe
// result arrives within one interval of Start. If logger is nil, a default
// stderr logger is used.
func NewProbeMonitor(prober Prober, interval time.Duration, logger *log.Logger) *ProbeMonitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &ProbeMonitor{
		prober:   prober,
		interval: interval,
		status:   signal.NewBool(false),
		logger:   logger,
	}
}

// Online implements Monitor.
func (m *ProbeMonitor) Online() bool { return m.status.Get() }

// Subscribe implements Monitor.
func (m *ProbeMonitor) Subscribe(cb func(bool)) signal.Subscription {
	return m.status.Subscribe(cb)
}

// Start begins probing. Calling Start on a running monitor is a no-op.
func (m *ProbeMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)
}

// Stop halts probing and waits for the probe loop to exit. The last
// published status remains readable.
func (m *ProbeMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *ProbeMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Probe immediately so startup doesn't wait a full interval.
	m.probeOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *ProbeMonitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	online := m.prober.Probe(probeCtx)
	if online != m.status.Get() {
		m.logger.Printf("Connectivity changed: online=%v", online)
	}
	m.status.Set(online)
}
