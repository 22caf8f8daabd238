package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // quiet hours use IANA zones

	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
)

// PreferenceServiceProvider defines the interface for notification preferences.
type PreferenceServiceProvider interface {
	Get(userID string) (*models.NotificationPreference, error)
	GetOrDefault(userID string) (models.NotificationPreference, error)
	Upsert(p models.NotificationPreference) (models.NotificationPreference, error)
}

// PreferenceService stores per-user notification preferences.
type PreferenceService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPreferenceService creates a new PreferenceService.
func NewPreferenceService(db *sql.DB) *PreferenceService {
	return &PreferenceService{db: db, now: time.Now}
}

const prefColumns = `user_id, email_enabled, email_critical, email_high, email_medium, email_low, email_case_updates,
	email_daily_digest, push_enabled, push_sound, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, timezone, updated_at`

// Get returns the stored preferences of a user, or nil when the user never
// saved any.
func (s *PreferenceService) Get(userID string) (*models.NotificationPreference, error) {
	var (
		p              models.NotificationPreference
		start, end, tz sql.NullString
		updated        int64
	)
	err := s.db.QueryRow("SELECT "+prefColumns+" FROM notification_preferences WHERE user_id = ?", userID).Scan(
		&p.UserID, &p.EmailEnabled, &p.EmailCritical, &p.EmailHigh, &p.EmailMedium, &p.EmailLow, &p.EmailCaseUpdates,
		&p.EmailDailyDigest, &p.PushEnabled, &p.PushSound, &p.QuietHoursEnabled, &start, &end, &tz, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences of %s: %w", userID, err)
	}
	p.QuietHoursStart, p.QuietHoursEnd, p.Timezone = start.String, end.String, tz.String
	p.UpdatedAt = database.FromMillis(updated)
	return &p, nil
}

// GetOrDefault returns the stored preferences or the default policy.
func (s *PreferenceService) GetOrDefault(userID string) (models.NotificationPreference, error) {
	p, err := s.Get(userID)
	if err != nil {
		return models.NotificationPreference{}, err
	}
	if p == nil {
		return models.DefaultPreference(userID), nil
	}
	return *p, nil
}

// Upsert validates and stores p.
func (s *PreferenceService) Upsert(p models.NotificationPreference) (models.NotificationPreference, error) {
	if err := ValidatePreference(p); err != nil {
		return models.NotificationPreference{}, err
	}
	p.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	_, err := s.db.Exec(`
		INSERT INTO notification_preferences (`+prefColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email_enabled = excluded.email_enabled, email_critical = excluded.email_critical,
			email_high = excluded.email_high, email_medium = excluded.email_medium, email_low = excluded.email_low,
			email_case_updates = excluded.email_case_updates, email_daily_digest = excluded.email_daily_digest,
			push_enabled = excluded.push_enabled, push_sound = excluded.push_sound,
			quiet_hours_enabled = excluded.quiet_hours_enabled, quiet_hours_start = excluded.quiet_hours_start,
			quiet_hours_end = excluded.quiet_hours_end, timezone = excluded.timezone, updated_at = excluded.updated_at`,
		p.UserID, p.EmailEnabled, p.EmailCritical, p.EmailHigh, p.EmailMedium, p.EmailLow, p.EmailCaseUpdates,
		p.EmailDailyDigest, p.PushEnabled, p.PushSound, p.QuietHoursEnabled, p.QuietHoursStart, p.QuietHoursEnd,
		p.Timezone, database.Millis(p.UpdatedAt),
	)
	if err != nil {
		return models.NotificationPreference{}, fmt.Errorf("save preferences of %s: %w", p.UserID, err)
	}
	return p, nil
}

// ValidatePreference checks the quiet-hours clock strings and timezone.
func ValidatePreference(p models.NotificationPreference) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if p.QuietHoursEnabled {
		for _, v := range []string{p.QuietHoursStart, p.QuietHoursEnd} {
			if _, err := time.Parse("15:04", v); err != nil || len(v) != 5 {
				return fmt.Errorf("%w: quiet hours must be HH:MM, got %q", ErrInvalidInput, v)
			}
		}
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, p.Timezone)
		}
	}
	return nil
}
