package model

import "strings"

// OptionLetter names one of the four answer options.
type OptionLetter string

const (
	OptionA OptionLetter = "A"
	OptionB OptionLetter = "B"
	OptionC OptionLetter = "C"
	OptionD OptionLetter = "D"
)

// OptionLetters lists the options in display order.
var OptionLetters = [4]OptionLetter{OptionA, OptionB, OptionC, OptionD}

// ParseOptionLetter accepts "a".."d" in either case.
func ParseOptionLetter(s string) (OptionLetter, bool) {
	l := OptionLetter(strings.ToUpper(strings.TrimSpace(s)))
	switch l {
	case OptionA, OptionB, OptionC, OptionD:
		return l, true
	}
	return "", false
}

// Index returns the 0-based option position, or -1 for an invalid letter.
func (l OptionLetter) Index() int {
	for i, o := range OptionLetters {
		if o == l {
			return i
		}
	}
	return -1
}

// Question represents a single multiple-choice exam question.
type Question struct {
	ID            int64        `json:"id"`
	ExamID        int64        `json:"exam_id"`
	QuestionText  string       `json:"question_text"`
	Options       [4]string    `json:"options"`
	CorrectOption OptionLetter `json:"correct_option"`
}

// Option returns the text for letter, or "" when the letter is invalid.
func (q *Question) Option(l OptionLetter) string {
	if i := l.Index(); i >= 0 {
		return q.Options[i]
	}
	return ""
}

// IsCorrect compares a chosen letter case-insensitively to the correct option.
func (q *Question) IsCorrect(chosen OptionLetter) bool {
	return chosen != "" && strings.EqualFold(string(chosen), string(q.CorrectOption))
}
