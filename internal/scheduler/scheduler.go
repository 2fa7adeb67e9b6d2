// Package scheduler provides best-effort periodic wake-ups for the sync
// engine.
//
// The host's background scheduling capability sits behind the Host interface
// so the engine stays portable: a long-running daemon uses TickerHost, a
// platform with its own background-task API supplies an adapter for it, and
// a host with no such capability degrades to a logged no-op. The engine
// remains correct with the scheduler entirely absent - the online-transition
// trigger is the primary mechanism; this is a safety net for sessions that
// never see a connectivity transition.
package scheduler

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// ErrUnavailable indicates the host cannot provide background scheduling.
// Registration failure is never fatal; callers log it and move on.
var ErrUnavailable = errors.New("background scheduling unavailable on this host")

// Host is the capability interface for coarse background scheduling.
//
// Schedule arranges for fn to be called roughly every interval. Exact timing
// is not guaranteed and ticks may be suppressed entirely by host policy.
// The returned cancel func stops future ticks.
type Host interface {
	Schedule(interval time.Duration, fn func()) (cancel func(), err error)
}

// TickerHost implements Host with a plain time.Ticker goroutine. Suitable
// for daemons and tests; ticks stop when the process does.
type TickerHost struct{}

// Schedule implements Host.
func (TickerHost) Schedule(interval time.Duration, fn func()) (func(), error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// UnsupportedHost implements Host for environments with no background
// scheduling capability. Schedule always fails with ErrUnavailable.
type UnsupportedHost struct{}

// Schedule implements Host.
func (UnsupportedHost) Schedule(time.Duration, func()) (func(), error) {
	return nil, ErrUnavailable
}

// Periodic registers a periodic sync trigger with the host.
type Periodic struct {
	host     Host
	interval time.Duration
	trigger  func()
	logger   *log.Logger

	mu         sync.Mutex
	cancel     func()
	registered bool
}

// New creates a Periodic scheduler that calls trigger on each tick.
//
// If host is nil, UnsupportedHost is assumed. If logger is nil, a default
// stderr logger is used.
func New(host Host, interval time.Duration, trigger func(), logger *log.Logger) *Periodic {
	if host == nil {
		host = UnsupportedHost{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Periodic{
		host:     host,
		interval: interval,
		trigger:  trigger,
		logger:   logger,
	}
}

// Register asks the host for periodic wake-ups. Idempotent: registering
// twice has the same effect as once.
//
// An unsupported host is logged and ignored; the returned error is always
// nil unless the host failed for a reason other than ErrUnavailable.
func (p *Periodic) Register() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.registered {
		return nil
	}

	cancel, err := p.host.Schedule(p.interval, p.trigger)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			p.logger.Printf("Periodic sync disabled: %v", err)
			return nil
		}
		return err
	}

	p.cancel = cancel
	p.registered = true
	p.logger.Printf("Periodic sync registered (every %v)", p.interval)
	return nil
}

// Registered reports whether a host registration is active.
func (p *Periodic) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

// Unregister cancels the host registration. Safe to call when not
// registered.
func (p *Periodic) Unregister() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registered {
		return
	}
	p.registered = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.logger.Println("Periodic sync unregistered")
}
