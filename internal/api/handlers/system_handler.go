package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/isdelr/alertflow/internal/monitoring"
)

// Pinger checks a dependency. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnectionCounter reports live websocket connections. *websocket.Hub satisfies it.
type ConnectionCounter interface {
	ConnectedUsers() []string
	Count() int
}

// HostStats returns the latest host sample. *monitoring.HostSampler satisfies it.
type HostStats interface {
	Latest() *monitoring.HostSample
}

// SystemHandler serves health and connection information.
type SystemHandler struct {
	db         Pinger
	conns      ConnectionCounter
	host       HostStats
	rules      RuleLister
	emailReady func() bool
	started    time.Time
}

// NewSystemHandler creates a new SystemHandler. host and emailReady may be nil.
func NewSystemHandler(db Pinger, conns ConnectionCounter, host HostStats, rules RuleLister, emailReady func() bool) *SystemHandler {
	return &SystemHandler{db: db, conns: conns, host: host, rules: rules, emailReady: emailReady, started: time.Now()}
}

// Health reports whether the service can do its job.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	dbStatus := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		status, code, dbStatus = "unhealthy", http.StatusServiceUnavailable, err.Error()
	}

	body := map[string]any{
		"status":      status,
		"database":    dbStatus,
		"connections": h.conns.Count(),
		"rules":       len(h.rules.Rules()),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"email":       h.emailReady != nil && h.emailReady(),
	}
	if h.host != nil {
		if s := h.host.Latest(); s != nil {
			body["host"] = s
		}
	}
	writeJSON(w, code, body)
}

// Connections lists users with a live websocket.
func (h *SystemHandler) Connections(w http.ResponseWriter, r *http.Request) {
	users := h.conns.ConnectedUsers()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":       users,
		"connections": h.conns.Count(),
	})
}
