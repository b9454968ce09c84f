package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/tierlist-core/internal/auth"
)

// SystemMetrics is the admin view of process and service health.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Accounts      AccountMetrics  `json:"accounts"`
	Audit         AuditMetrics    `json:"audit"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// AccountMetrics counts stored accounts and tiers.
type AccountMetrics struct {
	Users  int `json:"users"`
	Admins int `json:"admins"`
	Tiers  int `json:"tiers"`
}

// AuditMetrics reports audit writer back-pressure.
type AuditMetrics struct {
	Dropped int64 `json:"dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// connectionReporter is implemented by event publishers that hold a connection.
type connectionReporter interface {
	IsConnected() bool
}

// handleSystem returns runtime, hub, broker and storage statistics. Admin only.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if err := s.policy.Authorize(auth.PrincipalFromContext(r.Context()), auth.ActionViewSystem, auth.Resource{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.count(),
		},
		Audit: AuditMetrics{Dropped: s.audit.Dropped()},
	}

	if s.events != nil {
		m.MQTT.Enabled = true
		if cr, ok := s.events.(connectionReporter); ok {
			m.MQTT.Connected = cr.IsConnected()
		}
	}

	ctx := r.Context()
	var err error
	if m.Accounts.Users, err = s.users.Count(ctx); err != nil {
		s.logger.Warn("counting users for system metrics", "error", err)
	}
	if m.Accounts.Admins, err = s.users.CountAdmins(ctx); err != nil {
		s.logger.Warn("counting admins for system metrics", "error", err)
	}
	if tiers, err := s.tiers.List(ctx); err == nil {
		m.Accounts.Tiers = len(tiers)
	} else {
		s.logger.Warn("counting tiers for system metrics", "error", err)
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		m.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, m)
}

// handleMetrics serves the Prometheus exposition for scraping.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeNotFound(w, "metrics not enabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}
