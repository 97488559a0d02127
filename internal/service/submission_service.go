package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ResultWriter persists a result, replacing any prior one atomically.
type ResultWriter interface {
	ReplaceResult(ctx context.Context, res *model.Result) error
}

// SubmissionService scores an attempt and stores the result.
type SubmissionService struct {
	store ResultWriter
	now   func() time.Time
	log   zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(store ResultWriter, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "submission_service").Logger(),
	}
}

// Score counts the questions whose chosen letter matches the correct one.
// One point per question, no partial credit.
func Score(questions []model.Question, answers map[int64]model.OptionLetter) int {
	score := 0
	for i := range questions {
		if chosen, ok := answers[questions[i].ID]; ok && questions[i].IsCorrect(chosen) {
			score++
		}
	}
	return score
}

// Submit scores the answers and replaces the stored result for the pair.
// The score is computed before storage is touched.
func (s *SubmissionService) Submit(
	ctx context.Context,
	studentID, examID int64,
	questions []model.Question,
	answers map[int64]model.OptionLetter,
) (*model.Result, error) {
	res := &model.Result{
		StudentID:      studentID,
		ExamID:         examID,
		Score:          Score(questions, answers),
		TotalQuestions: len(questions),
		TakenAt:        s.now(),
	}

	if err := s.store.ReplaceResult(ctx, res); err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	s.log.Info().
		Int64("student_id", studentID).
		Int64("exam_id", examID).
		Int("score", res.Score).
		Int("total", res.TotalQuestions).
		Msg("Result stored")
	return res, nil
}
