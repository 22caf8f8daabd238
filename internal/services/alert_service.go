package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/rs/zerolog/log"
)

// DedupWindow is how long a (event, rule) pair suppresses a second alert.
const DedupWindow = 60 * time.Minute

// AlertServiceProvider defines the interface for alert services.
type AlertServiceProvider interface {
	CreateFromMatch(ev models.Event, m rules.Match) (models.Alert, error)
	GetAlert(id string) (models.Alert, error)
	ListAlerts(f AlertFilter) ([]models.Alert, error)
	ListSince(since time.Time) ([]models.Alert, error)
	Stats() (AlertStats, error)
	RuleStats(metas []rules.Metadata) ([]RuleStat, error)
	Acknowledge(id, actor string) (models.Alert, error)
	Assign(id, assignee string) (models.Alert, error)
	Investigate(id string) (models.Alert, error)
	Close(id, actor, notes string) (models.Alert, error)
	LinkCase(id, caseID string) (models.Alert, error)
	ListSLACandidates() ([]models.Alert, error)
	MarkBreached(id string, now time.Time) (bool, error)
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	Status      models.AlertStatus
	Severity    models.AlertSeverity
	Domain      string
	SLABreached *bool
	Limit       int
	Offset      int
}

// AlertStats summarises the alert table.
type AlertStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	BySeverity map[string]int `json:"bySeverity"`
	Breached   int            `json:"slaBreached"`
}

// RuleStat is the alert count of one rule.
type RuleStat struct {
	rules.Metadata
	TotalAlerts int `json:"totalAlerts"`
}

// AlertService persists alerts and enforces their lifecycle.
type AlertService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertService creates a new AlertService.
func NewAlertService(db *sql.DB) *AlertService {
	return &AlertService{db: db, now: time.Now}
}

// SetClock replaces the time source.
func (s *AlertService) SetClock(now func() time.Time) { s.now = now }

const alertColumns = `id, event_id, entity_type, entity_id, severity, confidence, domain, site_zone, rule_id, rule_name,
	description, status, sla_timer_minutes, sla_breached, case_id, assigned_to, acknowledged_at, acknowledged_by,
	resolved_at, resolved_by, resolution_notes, created_at, updated_at`

// CreateFromMatch inserts the alert for a fired rule unless the same rule
// already alerted on the same event within DedupWindow, in which case it
// returns ErrDuplicateAlertSuppressed.
func (s *AlertService) CreateFromMatch(ev models.Event, m rules.Match) (models.Alert, error) {
	now := s.now().UTC().Truncate(time.Millisecond)

	tx, err := s.db.Begin()
	if err != nil {
		return models.Alert{}, fmt.Errorf("begin alert tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(
		"SELECT id FROM alerts WHERE event_id = ? AND rule_id = ? AND created_at >= ? LIMIT 1",
		ev.ID, m.Rule.ID, database.Millis(now.Add(-DedupWindow)),
	).Scan(&existing)
	switch {
	case err == nil:
		log.Debug().Str("rule_id", m.Rule.ID).Str("event_id", ev.ID).Str("existing", existing).Msg("Duplicate alert suppressed")
		return models.Alert{}, ErrDuplicateAlertSuppressed
	case !errors.Is(err, sql.ErrNoRows):
		return models.Alert{}, fmt.Errorf("dedup lookup: %w", err)
	}

	alert := models.Alert{
		ID:          uuid.New().String(),
		EventID:     ev.ID,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		Severity:    m.Rule.Severity,
		Confidence:  m.Rule.Confidence,
		Domain:      m.Rule.Domain,
		SiteZone:    ev.Location,
		RuleID:      m.Rule.ID,
		RuleName:    m.Rule.Name,
		Description: m.Description,
		Status:      models.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if m.Rule.SLAMinutes > 0 {
		sla := m.Rule.SLAMinutes
		alert.SLATimerMinutes = &sla
	}

	var sla sql.NullInt64
	if alert.SLATimerMinutes != nil {
		sla = sql.NullInt64{Int64: int64(*alert.SLATimerMinutes), Valid: true}
	}
	_, err = tx.Exec(`
		INSERT INTO alerts (id, event_id, entity_type, entity_id, severity, confidence, domain, site_zone, rule_id,
			rule_name, description, status, sla_timer_minutes, sla_breached, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		alert.ID, alert.EventID, alert.EntityType, alert.EntityID, alert.Severity, alert.Confidence, alert.Domain,
		alert.SiteZone, alert.RuleID, alert.RuleName, alert.Description, alert.Status, sla,
		database.Millis(now), database.Millis(now),
	)
	if err != nil {
		return models.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Alert{}, fmt.Errorf("commit alert: %w", err)
	}
	return alert, nil
}

// GetAlert retrieves a single alert by its ID.
func (s *AlertService) GetAlert(id string) (models.Alert, error) {
	a, err := scanAlert(s.db.QueryRow("SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAlerts returns alerts matching f, newest first.
func (s *AlertService) ListAlerts(f AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if f.Domain != "" {
		where = append(where, "domain = ?")
		args = append(args, f.Domain)
	}
	if f.SLABreached != nil {
		where = append(where, "sla_breached = ?")
		args = append(args, boolInt(*f.SLABreached))
	}
	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// ListSince returns every alert created at or after since, newest first.
func (s *AlertService) ListSince(since time.Time) ([]models.Alert, error) {
	rows, err := s.db.Query("SELECT "+alertColumns+" FROM alerts WHERE created_at >= ? ORDER BY created_at DESC", database.Millis(since))
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// Stats counts alerts by status, severity and breach flag.
func (s *AlertService) Stats() (AlertStats, error) {
	stats := AlertStats{ByStatus: map[string]int{}, BySeverity: map[string]int{}}
	rows, err := s.db.Query("SELECT status, severity, sla_breached, COUNT(*) FROM alerts GROUP BY status, severity, sla_breached")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, severity string
			breached         bool
			n                int
		)
		if err := rows.Scan(&status, &severity, &breached, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySeverity[severity] += n
		if breached {
			stats.Breached += n
		}
	}
	return stats, rows.Err()
}

// RuleStats returns the total alert count for each rule in metas.
func (s *AlertService) RuleStats(metas []rules.Metadata) ([]RuleStat, error) {
	rows, err := s.db.Query("SELECT rule_id, COUNT(*) FROM alerts GROUP BY rule_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]RuleStat, 0, len(metas))
	for _, m := range metas {
		out = append(out, RuleStat{Metadata: m, TotalAlerts: counts[m.ID]})
	}
	return out, nil
}

// Acknowledge moves an open alert to acknowledged.
func (s *AlertService) Acknowledge(id, actor string) (models.Alert, error) {
	now := database.Millis(s.now())
	return s.transition(id, models.StatusAcknowledged,
		"acknowledged_at = ?, acknowledged_by = ?", now, actor)
}

// Assign hands an open or acknowledged alert to assignee.
func (s *AlertService) Assign(id, assignee string) (models.Alert, error) {
	if assignee == "" {
		return models.Alert{}, fmt.Errorf("%w: assignee is required", ErrInvalidInput)
	}
	return s.transition(id, models.StatusAssigned, "assigned_to = ?", assignee)
}

// Investigate moves an assigned alert to investigating.
func (s *AlertService) Investigate(id string) (models.Alert, error) {
	return s.transition(id, models.StatusInvestigating, "")
}

// Close resolves any non-closed alert.
func (s *AlertService) Close(id, actor, notes string) (models.Alert, error) {
	now := database.Millis(s.now())
	return s.transition(id, models.StatusClosed,
		"resolved_at = ?, resolved_by = ?, resolution_notes = ?", now, actor, notes)
}

// transition applies target with a conditional update on the allowed source
// states, so concurrent writers cannot take an illegal edge.
func (s *AlertService) transition(id string, target models.AlertStatus, set string, setArgs ...any) (models.Alert, error) {
	from := models.AllowedFrom(target)
	query := "UPDATE alerts SET status = ?, updated_at = ?"
	if set != "" {
		query += ", " + set
	}
	query += " WHERE id = ? AND status IN (" + placeholders(len(from)) + ")"

	args := []any{target, database.Millis(s.now())}
	args = append(args, setArgs...)
	args = append(args, id)
	for _, st := range from {
		args = append(args, st)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return models.Alert{}, fmt.Errorf("update alert %s: %w", id, err)
	}
	if err := s.requireChanged(res, id, target); err != nil {
		return models.Alert{}, err
	}
	log.Info().Str("alert_id", id).Str("status", string(target)).Msg("Alert status changed")
	return s.GetAlert(id)
}

// LinkCase attaches a case to an alert that is not closed.
func (s *AlertService) LinkCase(id, caseID string) (models.Alert, error) {
	if caseID == "" {
		return models.Alert{}, fmt.Errorf("%w: case id is required", ErrInvalidInput)
	}
	res, err := s.db.Exec("UPDATE alerts SET case_id = ?, updated_at = ? WHERE id = ? AND status <> ?",
		caseID, database.Millis(s.now()), id, models.StatusClosed)
	if err != nil {
		return models.Alert{}, fmt.Errorf("link case: %w", err)
	}
	if err := s.requireChanged(res, id, ""); err != nil {
		return models.Alert{}, err
	}
	return s.GetAlert(id)
}

func (s *AlertService) requireChanged(res sql.Result, id string, target models.AlertStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	current, err := s.GetAlert(id)
	if err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: alert %s is %s", ErrInvalidTransition, id, current.Status)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
}

// ListSLACandidates returns alerts that can still breach: open or
// acknowledged, not yet breached, with a timer.
func (s *AlertService) ListSLACandidates() ([]models.Alert, error) {
	rows, err := s.db.Query(
		"SELECT "+alertColumns+" FROM alerts WHERE status IN (?, ?) AND sla_breached = 0 AND sla_timer_minutes IS NOT NULL ORDER BY created_at ASC",
		models.SLAWatched[0], models.SLAWatched[1],
	)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

// MarkBreached sets sla_breached if the alert is still watched and not yet
// breached. It reports whether this call made the change.
func (s *AlertService) MarkBreached(id string, now time.Time) (bool, error) {
	res, err := s.db.Exec(
		"UPDATE alerts SET sla_breached = 1, updated_at = ? WHERE id = ? AND sla_breached = 0 AND status IN (?, ?)",
		database.Millis(now), id, models.SLAWatched[0], models.SLAWatched[1],
	)
	if err != nil {
		return false, fmt.Errorf("mark alert %s breached: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var (
		a                                     models.Alert
		entityType, entityID, siteZone, notes sql.NullString
		caseID, assignedTo, ackBy, resolvedBy sql.NullString
		sla, ackAt, resolvedAt                sql.NullInt64
		created, updated                      int64
	)
	err := row.Scan(&a.ID, &a.EventID, &entityType, &entityID, &a.Severity, &a.Confidence, &a.Domain, &siteZone,
		&a.RuleID, &a.RuleName, &a.Description, &a.Status, &sla, &a.SLABreached, &caseID, &assignedTo,
		&ackAt, &ackBy, &resolvedAt, &resolvedBy, &notes, &created, &updated)
	if err != nil {
		return models.Alert{}, err
	}
	a.EntityType, a.EntityID, a.SiteZone, a.ResolutionNotes = entityType.String, entityID.String, siteZone.String, notes.String
	if sla.Valid {
		v := int(sla.Int64)
		a.SLATimerMinutes = &v
	}
	a.CaseID = database.StringPtr(caseID)
	a.AssignedTo = database.StringPtr(assignedTo)
	a.AcknowledgedBy = database.StringPtr(ackBy)
	a.ResolvedBy = database.StringPtr(resolvedBy)
	a.AcknowledgedAt = database.TimePtr(ackAt)
	a.ResolvedAt = database.TimePtr(resolvedAt)
	a.CreatedAt = database.FromMillis(created)
	a.UpdatedAt = database.FromMillis(updated)
	return a, nil
}

func collectAlerts(rows *sql.Rows) ([]models.Alert, error) {
	defer rows.Close()
	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
