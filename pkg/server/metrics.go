package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current open connections, logged-in or not
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Login counters
	SuccessfulLogins atomic.Int64 // successful LOGIN frames
	FailedLogins     atomic.Int64 // rejected LOGIN frames
	LoginLockouts    atomic.Int64 // connections closed after exhausting the attempt budget

	// Chat counters
	MessagesBroadcast atomic.Int64 // chat messages fanned out
	MessagesPersisted atomic.Int64 // chat messages written to the store
	PersistFailures   atomic.Int64 // store writes or reads that failed
	HistoryReplays    atomic.Int64 // MESSAGES: replays served at login

	// Invite counters
	InvitesForwarded atomic.Int64 // invite frames routed to their target
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`
	LoginLockouts    int64 `json:"login_lockouts"`

	MessagesBroadcast int64 `json:"messages_broadcast"`
	MessagesPersisted int64 `json:"messages_persisted"`
	PersistFailures   int64 `json:"persist_failures"`
	HistoryReplays    int64 `json:"history_replays"`

	InvitesForwarded int64 `json:"invites_forwarded"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulLogins:  m.SuccessfulLogins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		LoginLockouts:     m.LoginLockouts.Load(),
		MessagesBroadcast: m.MessagesBroadcast.Load(),
		MessagesPersisted: m.MessagesPersisted.Load(),
		PersistFailures:   m.PersistFailures.Load(),
		HistoryReplays:    m.HistoryReplays.Load(),
		InvitesForwarded:  m.InvitesForwarded.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"logins_ok", s.SuccessfulLogins,
		"logins_failed", s.FailedLogins,
		"lockouts", s.LoginLockouts,
		"msgs_broadcast", s.MessagesBroadcast,
		"msgs_persisted", s.MessagesPersisted,
		"persist_failures", s.PersistFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
