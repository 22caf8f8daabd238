package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/models"
)

// NotificationServiceProvider defines the interface for the notification log.
type NotificationServiceProvider interface {
	Record(n models.Notification) (models.Notification, error)
	ListForUser(userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	UnreadCount(userID string) (int, error)
	MarkRead(userID, id string) error
	MarkAllRead(userID string) (int64, error)
}

// NotificationService is the append-only log of delivery attempts.
type NotificationService struct {
	db  *sql.DB
	now func() time.Time
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(db *sql.DB) *NotificationService {
	return &NotificationService{db: db, now: time.Now}
}

const notificationColumns = `id, user_id, kind, channel, title, message, data_json, priority, is_read, read_at,
	is_delivered, delivered_at, delivery_error, created_at`

// Record appends a delivery attempt. The delivery outcome is final.
func (s *NotificationService) Record(n models.Notification) (models.Notification, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}
	n.CreatedAt = now
	if n.IsDelivered && n.DeliveredAt == nil {
		n.DeliveredAt = &now
	}
	var data sql.NullString
	if n.Data != "" {
		data = sql.NullString{String: n.Data, Valid: true}
	}
	_, err := s.db.Exec(
		"INSERT INTO notifications ("+notificationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)",
		n.ID, n.UserID, n.Kind, n.Channel, n.Title, n.Message, data, n.Priority,
		boolInt(n.IsDelivered), database.NullMillis(n.DeliveredAt), n.DeliveryError, database.Millis(now),
	)
	if err != nil {
		return models.Notification{}, fmt.Errorf("record notification: %w", err)
	}
	return n, nil
}

// ListForUser returns a user's notifications, newest first.
func (s *NotificationService) ListForUser(userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = ?"
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := s.db.Query(query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n                   models.Notification
			data, deliveryErr   sql.NullString
			readAt, deliveredAt sql.NullInt64
			created             int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Channel, &n.Title, &n.Message, &data, &n.Priority,
			&n.IsRead, &readAt, &n.IsDelivered, &deliveredAt, &deliveryErr, &created); err != nil {
			return nil, err
		}
		n.Data, n.DeliveryError = data.String, deliveryErr.String
		n.ReadAt = database.TimePtr(readAt)
		n.DeliveredAt = database.TimePtr(deliveredAt)
		n.CreatedAt = database.FromMillis(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadCount counts a user's unread notifications.
func (s *NotificationService) UnreadCount(userID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID).Scan(&n)
	return n, err
}

// MarkRead flags one notification of userID as read.
func (s *NotificationService) MarkRead(userID, id string) error {
	res, err := s.db.Exec("UPDATE notifications SET is_read = 1, read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?",
		database.Millis(s.now()), id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllRead flags every unread notification of userID and returns how many changed.
func (s *NotificationService) MarkAllRead(userID string) (int64, error) {
	res, err := s.db.Exec("UPDATE notifications SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0",
		database.Millis(s.now()), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
