// Package network tracks connectivity with a periodic TCP probe.
package network

import (
	"context"
	"net"
	"sync"
	"time"

	"trackresync/internal/config"
	"trackresync/internal/events"

	"github.com/rs/zerolog"
)

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Monitor probes an address and reports whether the network is reachable.
// Going from offline to online publishes events.EventNetworkAvailable.
type Monitor struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     dialFunc
	bus      *events.EventBus
	logger   *zerolog.Logger

	mu       sync.Mutex
	online   bool
	onlineCh chan struct{}
}

func NewMonitor(cfg config.NetworkConfig, bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &net.Dialer{}
	return &Monitor{
		address:  cfg.ProbeAddress,
		interval: cfg.ProbeInterval,
		timeout:  cfg.ProbeTimeout,
		dial:     d.DialContext,
		bus:      bus,
		logger:   logger,
		onlineCh: make(chan struct{}),
	}
}

// Start probes immediately and then on every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Str("address", m.address).Dur("interval", m.interval).Msg("network monitor started")
	m.Probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe dials the probe address once and records the result.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(probeCtx, "tcp", m.address)
	if err != nil {
		m.set(false, err)
		return false
	}
	_ = conn.Close()
	m.set(true, nil)
	return true
}

func (m *Monitor) set(online bool, cause error) {
	m.mu.Lock()
	was := m.online
	m.online = online
	switch {
	case online && !was:
		close(m.onlineCh)
	case !online && was:
		m.onlineCh = make(chan struct{})
	}
	m.mu.Unlock()

	if online == was {
		return
	}
	if !online {
		m.logger.Warn().Err(cause).Str("address", m.address).Msg("network unavailable")
		return
	}

	m.logger.Info().Str("address", m.address).Msg("network available")
	if err := m.bus.PublishJSON(events.EventNetworkAvailable, events.NetworkAvailablePayload{
		Address: m.address,
		At:      time.Now(),
	}); err != nil {
		m.logger.Warn().Err(err).Msg("failed to publish network_available")
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// WaitOnline returns once the network is available or ctx is done.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return nil
	}
	ch := m.onlineCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
