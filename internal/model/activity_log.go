package model

import "time"

// ActivityType enumerates the events recorded while a session is in progress.
type ActivityType string

const (
	ActivityWindowSwitch ActivityType = "WINDOW_SWITCH"
	ActivityInactivity   ActivityType = "INACTIVITY"
	ActivityTimerWarning ActivityType = "TIMER_WARNING"
	ActivityTimeUp       ActivityType = "TIME_UP"
)

// ActivityLogEntry is an append-only record written by the lockdown monitor and the countdown.
type ActivityLogEntry struct {
	StudentID int64        `json:"student_id" validate:"gt=0"`
	ExamID    int64        `json:"exam_id" validate:"gt=0"`
	EventType ActivityType `json:"event_type" validate:"oneof=WINDOW_SWITCH INACTIVITY TIMER_WARNING TIME_UP"`
	Detail    string       `json:"detail"`
	Timestamp time.Time    `json:"timestamp" validate:"required"`
}
