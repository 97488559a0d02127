package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ExamSource loads an exam with its ordered questions.
type ExamSource interface {
	LoadBundle(ctx context.Context, examID int64) (*model.TransferBundle, error)
}

// CredentialVerifier checks entry and exit passwords.
type CredentialVerifier interface {
	Verify(ctx context.Context, examID int64, kind model.PasswordKind, candidate string) (bool, error)
}

// ActivityRecorder appends to the activity log. It must swallow its own errors.
type ActivityRecorder interface {
	Record(ctx context.Context, entry model.ActivityLogEntry)
}

// Submitter scores answers and stores the result atomically.
type Submitter interface {
	Submit(ctx context.Context, studentID, examID int64, questions []model.Question, answers map[int64]model.OptionLetter) (*model.Result, error)
}

// Timing holds the controller's cadences.
type Timing struct {
	Tick          time.Duration // countdown resolution
	IdleCheck     time.Duration
	IdleLimit     time.Duration
	Grace         time.Duration // full-screen re-assertion after a failed exit
	GraceInterval time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Tick:          time.Second,
		IdleCheck:     30 * time.Second,
		IdleLimit:     2 * time.Minute,
		Grace:         3 * time.Second,
		GraceInterval: 100 * time.Millisecond,
	}
}

// TimingFrom projects the configured cadences.
func TimingFrom(cfg *config.Config) Timing {
	return Timing{
		Tick:          cfg.TickInterval,
		IdleCheck:     cfg.InactivityCheckInterval,
		IdleLimit:     cfg.InactivityLimit,
		Grace:         cfg.GraceWindow,
		GraceInterval: cfg.GraceInterval,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.IdleCheck <= 0 {
		t.IdleCheck = d.IdleCheck
	}
	if t.IdleLimit <= 0 {
		t.IdleLimit = d.IdleLimit
	}
	if t.Grace <= 0 {
		t.Grace = d.Grace
	}
	if t.GraceInterval <= 0 {
		t.GraceInterval = d.GraceInterval
	}
	return t
}

// Options configures a Controller.
type Options struct {
	StudentID int64
	ExamID    int64

	// Bundle, when set, is loaded instead of asking Exams. Used for LAN transfers.
	Bundle *model.TransferBundle
	// EntryAuthenticated skips the entry prompt when the caller already
	// verified the entry password.
	EntryAuthenticated bool

	Exams       ExamSource
	Credentials CredentialVerifier
	Activity    ActivityRecorder
	Submitter   Submitter
	Listener    Listener
	Window      Window
	Scheduler   Scheduler
	Timing      Timing
	Log         zerolog.Logger
}

func (o *Options) validate() error {
	switch {
	case o.Bundle == nil && o.Exams == nil:
		return errors.New("session: exam source or bundle required")
	case o.Credentials == nil:
		return errors.New("session: credential verifier required")
	case o.Submitter == nil:
		return errors.New("session: submitter required")
	case o.Listener == nil:
		return errors.New("session: listener required")
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.ActivityLogEntry) {}
