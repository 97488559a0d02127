package session

import (
	"fmt"

	"github.com/stemsi/exstem-lockdown/internal/model"
)

// AnswerStore holds the loaded questions and the student's current answers.
// It does no I/O and is owned by the controller loop; it is not safe for
// concurrent use.
type AnswerStore struct {
	questions []model.Question
	byID      map[int64]int
	answers   map[int64]model.OptionLetter
}

func NewAnswerStore() *AnswerStore {
	return &AnswerStore{
		byID:    make(map[int64]int),
		answers: make(map[int64]model.OptionLetter),
	}
}

// Load replaces the question list and clears answers. It is rejected once
// any answer has been recorded.
func (s *AnswerStore) Load(questions []model.Question) error {
	if len(s.answers) > 0 {
		return ErrAnswersRecorded
	}
	s.questions = append([]model.Question(nil), questions...)
	s.byID = make(map[int64]int, len(questions))
	for i, q := range s.questions {
		s.byID[q.ID] = i
	}
	s.answers = make(map[int64]model.OptionLetter)
	return nil
}

// SetAnswer upserts the chosen letter for a question.
func (s *AnswerStore) SetAnswer(questionID int64, letter model.OptionLetter) error {
	if _, ok := s.byID[questionID]; !ok {
		return fmt.Errorf("question %d: %w", questionID, ErrUnknownQuestion)
	}
	l, ok := model.ParseOptionLetter(string(letter))
	if !ok {
		return fmt.Errorf("%q: %w", letter, ErrInvalidOption)
	}
	s.answers[questionID] = l
	return nil
}

func (s *AnswerStore) AnswerFor(questionID int64) (model.OptionLetter, bool) {
	l, ok := s.answers[questionID]
	return l, ok
}

func (s *AnswerStore) AnsweredCount() int { return len(s.answers) }

func (s *AnswerStore) TotalCount() int { return len(s.questions) }

// Question returns the question at index i.
func (s *AnswerStore) Question(i int) (model.Question, bool) {
	if i < 0 || i >= len(s.questions) {
		return model.Question{}, false
	}
	return s.questions[i], true
}

// Questions returns the loaded list. Callers must not modify it.
func (s *AnswerStore) Questions() []model.Question { return s.questions }

// Answers returns a copy of the answer mapping.
func (s *AnswerStore) Answers() map[int64]model.OptionLetter {
	out := make(map[int64]model.OptionLetter, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}
