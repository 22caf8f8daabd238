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
	"golang.org/x/crypto/bcrypt"
)

// UserServiceProvider defines the interface for user services.
type UserServiceProvider interface {
	GetUserByID(id string) (models.User, error)
	CreateUser(username, email, password, role string) (models.User, error)
	UpdatePassword(id, currentPassword, newPassword string) error
	SetActive(id string, active bool) error
	DeleteUser(id string) error
	AuthenticateUser(email, password string) (models.User, error)
	ListActive() ([]models.User, error)
	ListByRoles(roles ...string) ([]models.User, error)
	GetActiveUsers(ids []string) ([]models.User, error)
}

// UserService provides business logic for user management.
type UserService struct {
	db *sql.DB
}

// NewUserService creates a new UserService.
func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db}
}

const userColumns = "id, username, email, role, is_active, created_at"

// GetUserByID retrieves a single user by their ID.
func (s *UserService) GetUserByID(id string) (models.User, error) {
	user, err := scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user with ID %s: %w", id, ErrNotFound)
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUserByEmail retrieves a single user by their email, including the password hash.
func (s *UserService) GetUserByEmail(email string) (models.User, error) {
	var (
		user    models.User
		created int64
	)
	row := s.db.QueryRow("SELECT id, username, email, role, is_active, password_hash, created_at FROM users WHERE email = ?", email)
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.IsActive, &user.PasswordHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
		}
		return models.User{}, err
	}
	user.CreatedAt = database.FromMillis(created)
	return user, nil
}

// CreateUser creates a new user, hashing their password.
func (s *UserService) CreateUser(username, email, password, role string) (models.User, error) {
	if username == "" || email == "" || password == "" {
		return models.User{}, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if role == "" {
		role = models.RoleViewer
	}
	if !models.ValidRole(role) {
		return models.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		Role:         role,
		IsActive:     true,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	stmt, err := s.db.Prepare("INSERT INTO users(id, username, email, role, is_active, password_hash, created_at) VALUES(?, ?, ?, ?, 1, ?, ?)")
	if err != nil {
		return models.User{}, err
	}
	defer stmt.Close()

	_, err = stmt.Exec(user.ID, user.Username, user.Email, user.Role, user.PasswordHash, database.Millis(user.CreatedAt))
	if err != nil {
		return models.User{}, err
	}

	// Return user without password hash
	user.PasswordHash = ""
	return user, nil
}

// UpdatePassword verifies the current password, then hashes and sets a new password for a user.
func (s *UserService) UpdatePassword(id, currentPassword, newPassword string) error {
	var hash string
	err := s.db.QueryRow("SELECT password_hash FROM users WHERE id = ?", id).Scan(&hash)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	// Check if the current password is correct
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(currentPassword))
	if err != nil {
		return fmt.Errorf("%w: current password is incorrect", ErrInvalidInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	_, err = s.db.Exec("UPDATE users SET password_hash = ? WHERE id = ?", string(hashedPassword), id)
	return err
}

// SetActive enables or disables a user. Inactive users receive nothing.
func (s *UserService) SetActive(id string, active bool) error {
	res, err := s.db.Exec("UPDATE users SET is_active = ? WHERE id = ?", boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user with ID %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUser removes a user from the database.
func (s *UserService) DeleteUser(id string) error {
	_, err := s.db.Exec("DELETE FROM users WHERE id = ?", id)
	return err
}

// AuthenticateUser verifies a user's credentials.
func (s *UserService) AuthenticateUser(email, password string) (models.User, error) {
	user, err := s.GetUserByEmail(email)
	if err != nil {
		return models.User{}, fmt.Errorf("authentication failed: user not found")
	}
	if !user.IsActive {
		return models.User{}, fmt.Errorf("authentication failed: user is disabled")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return models.User{}, fmt.Errorf("authentication failed: invalid password")
	}

	// Don't send the password hash to the client
	user.PasswordHash = ""
	return user, nil
}

// ListActive returns every active user.
func (s *UserService) ListActive() ([]models.User, error) {
	rows, err := s.db.Query("SELECT " + userColumns + " FROM users WHERE is_active = 1 ORDER BY username")
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// ListByRoles returns the active users holding any of roles.
func (s *UserService) ListByRoles(roles ...string) ([]models.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, len(roles))
	for i, r := range roles {
		args[i] = r
	}
	rows, err := s.db.Query(
		"SELECT "+userColumns+" FROM users WHERE is_active = 1 AND role IN ("+placeholders(len(roles))+") ORDER BY username",
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// GetActiveUsers resolves ids to active users, silently skipping unknown and
// inactive ones.
func (s *UserService) GetActiveUsers(ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		"SELECT "+userColumns+" FROM users WHERE is_active = 1 AND id IN ("+placeholders(len(ids))+")",
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		user    models.User
		created int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.IsActive, &created); err != nil {
		return models.User{}, err
	}
	user.Role = strings.TrimSpace(user.Role)
	user.CreatedAt = database.FromMillis(created)
	return user, nil
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
