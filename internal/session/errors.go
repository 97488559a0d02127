package session

import "errors"

// Failure classes surfaced through Outcome.Err and OnError.
var (
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrTransferFailed         = errors.New("failed to fetch exam")
	ErrSubmissionFailed       = errors.New("submission failed")
	ErrNoQuestions            = errors.New("exam has no questions")
	ErrSessionClosed          = errors.New("session closed")
	ErrAlreadyRunning         = errors.New("session already running")
)

// Answer store errors. Both indicate a caller bug.
var (
	ErrAnswersRecorded = errors.New("answers already recorded")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrInvalidOption   = errors.New("invalid option letter")
)
