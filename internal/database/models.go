package database

import "time"

// CallAttempt is the audit row for one placed call leg. One row is written
// per contact per dial attempt; the row is opened as DIALING when the
// batch is placed and closed when the leg reaches a terminal state.
type CallAttempt struct {
	ID          int64      `json:"id"`
	AttemptID   string     `json:"attempt_id"`
	RunID       string     `json:"run_id"`
	ContactID   string     `json:"contact_id"`
	Number      string     `json:"number"`
	Name        string     `json:"name"`
	Status      string     `json:"status"` // DIALING, COMPLETED, FAILED
	Detail      string     `json:"detail"`
	Disposition string     `json:"disposition"`
	Notes       string     `json:"notes"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// User is an operator account for the control API.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}
