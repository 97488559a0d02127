package model

import (
	"time"
)

// PasswordKind selects which of an exam's two credentials is meant.
type PasswordKind string

const (
	PasswordEntry PasswordKind = "entry"
	PasswordExit  PasswordKind = "exit"
)

// Exam represents an exam entity. Immutable for the lifetime of a session once loaded.
type Exam struct {
	ID                int64      `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	DurationMinutes   int        `json:"duration_minutes"`
	EntryPasswordHash string     `json:"entry_password_hash,omitempty"`
	ExitPasswordHash  string     `json:"exit_password_hash,omitempty"`
}

// DurationSeconds is the session time budget.
func (e *Exam) DurationSeconds() int {
	return e.DurationMinutes * 60
}

// PasswordHash returns the stored hash for the given credential, or "" when unset.
func (e *Exam) PasswordHash(kind PasswordKind) string {
	if kind == PasswordExit {
		return e.ExitPasswordHash
	}
	return e.EntryPasswordHash
}
