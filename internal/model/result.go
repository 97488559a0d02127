package model

import "time"

// Result is the stored outcome of one attempt. There is one logical result per
// (student, exam) pair; a resubmission replaces the prior row.
type Result struct {
	StudentID      int64     `json:"student_id"`
	ExamID         int64     `json:"exam_id"`
	Score          int       `json:"score"`
	TotalQuestions int       `json:"total_questions"`
	TakenAt        time.Time `json:"taken_at"`
}

// Percentage is Score over TotalQuestions in the range [0, 100].
func (r *Result) Percentage() float64 {
	if r.TotalQuestions == 0 {
		return 0
	}
	return float64(r.Score) / float64(r.TotalQuestions) * 100
}
