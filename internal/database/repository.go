package database

import (
	"database/sql"
	"fmt"

	"powerdial/internal/engine"
)

// Repository handles database operations for the attempt log and operator
// accounts. It implements engine.AttemptLog.
type Repository struct {
	conn *Connection
}

// NewRepository creates a new repository.
func NewRepository(conn *Connection) *Repository {
	return &Repository{conn: conn}
}

// GetDB returns the underlying sql.DB.
func (r *Repository) GetDB() *sql.DB {
	return r.conn.DB
}

// EnsureSchema creates the tables this service owns if they do not exist.
func (r *Repository) EnsureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS powerdial_attempts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			attempt_id VARCHAR(64) NOT NULL UNIQUE,
			run_id VARCHAR(64) NOT NULL,
			contact_id VARCHAR(64) NOT NULL,
			number VARCHAR(32) NOT NULL,
			name VARCHAR(128) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'DIALING',
			detail VARCHAR(64) NOT NULL DEFAULT '',
			disposition VARCHAR(64) NOT NULL DEFAULT '',
			notes TEXT,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at TIMESTAMP NULL,
			INDEX idx_run (run_id),
			INDEX idx_contact (contact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS powerdial_users (
			id INT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(64) NOT NULL UNIQUE,
			password_hash VARCHAR(128) NOT NULL,
			role VARCHAR(32) NOT NULL DEFAULT 'operator'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.conn.DB.Exec(stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// AttemptStarted opens an attempt row as DIALING.
func (r *Repository) AttemptStarted(runID, attemptID string, c *engine.Contact) error {
	query := `
		INSERT INTO powerdial_attempts (attempt_id, run_id, contact_id, number, name, status)
		VALUES (?, ?, ?, ?, ?, 'DIALING')
	`
	if _, err := r.conn.DB.Exec(query, attemptID, runID, c.ID, c.Number, c.Name); err != nil {
		return fmt.Errorf("inserting attempt %s: %w", attemptID, err)
	}
	return nil
}

// AttemptFinished closes an open attempt row. The update is conditional on
// the row still being DIALING, so duplicate terminal events record nothing
// twice.
func (r *Repository) AttemptFinished(attemptID, status, detail string) error {
	query := `
		UPDATE powerdial_attempts
		SET status = ?, detail = ?, ended_at = NOW()
		WHERE attempt_id = ? AND status = 'DIALING'
	`
	if _, err := r.conn.DB.Exec(query, status, detail, attemptID); err != nil {
		return fmt.Errorf("closing attempt %s: %w", attemptID, err)
	}
	return nil
}

// RecordDisposition stores the operator's disposition against an attempt.
func (r *Repository) RecordDisposition(attemptID, result, notes string) error {
	query := `
		UPDATE powerdial_attempts
		SET disposition = ?, notes = ?
		WHERE attempt_id = ?
	`
	res, err := r.conn.DB.Exec(query, result, notes, attemptID)
	if err != nil {
		return fmt.Errorf("recording disposition for attempt %s: %w", attemptID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	return nil
}

// RecentAttempts lists the most recent attempt rows.
func (r *Repository) RecentAttempts(limit int) ([]CallAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, attempt_id, run_id, contact_id, number, name, status,
		       detail, disposition, COALESCE(notes, ''), started_at, ended_at
		FROM powerdial_attempts
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.conn.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var attempts []CallAttempt
	for rows.Next() {
		var a CallAttempt
		if err := rows.Scan(
			&a.ID, &a.AttemptID, &a.RunID, &a.ContactID, &a.Number, &a.Name,
			&a.Status, &a.Detail, &a.Disposition, &a.Notes, &a.StartedAt, &a.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetUserByUsername fetches an operator account for login.
func (r *Repository) GetUserByUsername(username string) (*User, error) {
	query := `SELECT id, username, password_hash, role FROM powerdial_users WHERE username = ?`

	var u User
	err := r.conn.DB.QueryRow(query, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts an operator account with a pre-hashed password.
func (r *Repository) CreateUser(username, passwordHash, role string) error {
	query := `INSERT INTO powerdial_users (username, password_hash, role) VALUES (?, ?, ?)`
	if _, err := r.conn.DB.Exec(query, username, passwordHash, role); err != nil {
		return fmt.Errorf("creating user %s: %w", username, err)
	}
	return nil
}
