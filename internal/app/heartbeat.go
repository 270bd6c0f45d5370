package app

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultTimeoutFactor     = 3
)

// Monitor pings every registered connection on a fixed interval.
// A connection silent for interval*factor is asked to reconnect; one still silent a
// full window after that is expired and loses its room membership.
type Monitor struct {
	registry *Registry
	interval time.Duration
	factor   int
	now      func() time.Time
	expire   func(connID string)
	logger   *slog.Logger
}

type MonitorOption func(*Monitor)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// WithExpire sets the callback run for connections that never recovered.
func WithExpire(fn func(connID string)) MonitorOption {
	return func(m *Monitor) { m.expire = fn }
}

func NewMonitor(registry *Registry, interval time.Duration, factor int, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if factor <= 0 {
		factor = DefaultTimeoutFactor
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		registry: registry,
		interval: interval,
		factor:   factor,
		now:      time.Now,
		logger:   logger,
	}
	m.expire = func(connID string) { registry.Unregister(connID) }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout is how long a connection may stay silent before a forced reconnect.
func (m *Monitor) Timeout() time.Duration {
	return m.interval * time.Duration(m.factor)
}

// Run sweeps until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one ping round.
func (m *Monitor) Sweep() {
	now := m.now()
	timeout := m.Timeout()
	for _, entry := range m.registry.Snapshot() {
		silent := now.Sub(entry.LastSeen)
		switch {
		case !entry.ForcedAt.IsZero() && now.Sub(entry.ForcedAt) > timeout:
			m.logger.Info("connection expired", "conn_id", entry.ID, "pin", entry.Pin, "silent", silent)
			entry.Conn.Close()
			m.expire(entry.ID)
		case entry.ForcedAt.IsZero() && silent > timeout:
			m.logger.Info("forcing reconnect", "conn_id", entry.ID, "pin", entry.Pin, "silent", silent)
			m.registry.MarkForced(entry.ID)
			entry.Conn.ForceReconnect()
		case entry.ForcedAt.IsZero():
			if err := entry.Conn.Ping(); err != nil {
				m.logger.Debug("ping failed", "conn_id", entry.ID, "error", err)
			}
		}
	}
}
