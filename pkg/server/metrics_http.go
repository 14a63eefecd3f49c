package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :12346 by default, configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("linechat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("linechat_connections_active", "Current open client connections.", "gauge",
		m.ActiveConnections.Load())
	write("linechat_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("linechat_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("linechat_logins_success_total", "Successful login attempts.", "counter",
		m.SuccessfulLogins.Load())
	write("linechat_logins_failed_total", "Failed login attempts.", "counter",
		m.FailedLogins.Load())
	write("linechat_login_lockouts_total", "Connections closed after exhausting login attempts.", "counter",
		m.LoginLockouts.Load())

	write("linechat_messages_broadcast_total", "Chat messages fanned out to sessions.", "counter",
		m.MessagesBroadcast.Load())
	write("linechat_messages_persisted_total", "Chat messages written to the store.", "counter",
		m.MessagesPersisted.Load())
	write("linechat_persist_failures_total", "Store operations that failed.", "counter",
		m.PersistFailures.Load())
	write("linechat_history_replays_total", "History replays served at login.", "counter",
		m.HistoryReplays.Load())

	write("linechat_invites_forwarded_total", "Invite frames routed to their target session.", "counter",
		m.InvitesForwarded.Load())
}
