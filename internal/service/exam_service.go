package service

import (
	"context"
	"fmt"

	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ExamReader is the read side of the store used to assemble bundles.
type ExamReader interface {
	FetchExam(ctx context.Context, examID int64) (*model.Exam, error)
	FetchQuestions(ctx context.Context, examID int64) ([]model.Question, error)
}

// ExamService assembles exam bundles from persistence.
type ExamService struct {
	store ExamReader
}

// NewExamService creates a new ExamService.
func NewExamService(store ExamReader) *ExamService {
	return &ExamService{store: store}
}

// LoadBundle fetches an exam and its ordered questions. An exam without
// questions is returned with an empty question list, not an error.
func (s *ExamService) LoadBundle(ctx context.Context, examID int64) (*model.TransferBundle, error) {
	exam, err := s.store.FetchExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("fetch exam: %w", err)
	}

	questions, err := s.store.FetchQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	return &model.TransferBundle{Exam: *exam, Questions: questions}, nil
}
