// Package connectivity tracks whether the remote store is reachable. The
// cached flag is consulted before every remote operation; probes are bounded
// so a hung remote connection never blocks request handling.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProbeFunc checks the remote store once. Any error means "offline".
type ProbeFunc func(ctx context.Context) error

type Monitor struct {
	probe   ProbeFunc
	timeout time.Duration
	log     zerolog.Logger

	online atomic.Bool

	mu      sync.Mutex
	stop    chan struct{}
	started bool
}

// NewMonitor wires a probe with a hard timeout. A nil probe configures a
// permanently-offline monitor (no remote store URI).
func NewMonitor(probe ProbeFunc, timeout time.Duration, logger zerolog.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{
		probe:   probe,
		timeout: timeout,
		log:     logger.With().Str("component", "connectivity").Logger(),
	}
}

// CheckConnectivity probes the remote once and updates the cached state.
// It never returns an error: probe failures are simply "offline".
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	if m.probe == nil {
		m.online.Store(false)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.probe(ctx)
	online := err == nil
	was := m.online.Swap(online)
	if online != was {
		if online {
			m.log.Info().Msg("remote store reachable")
		} else {
			m.log.Warn().Err(err).Msg("remote store unreachable")
		}
	}
	return online
}

// Status returns the last known state without any I/O.
func (m *Monitor) Status() bool {
	return m.online.Load()
}

// StartMonitoring begins the background poll loop. Calling it twice is a
// no-op.
func (m *Monitor) StartMonitoring(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.probe == nil {
		if m.probe == nil {
			m.log.Info().Msg("no remote store configured, running offline")
		}
		return
	}
	m.started = true
	m.stop = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.CheckConnectivity(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckConnectivity(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		close(m.stop)
		m.started = false
	}
}
