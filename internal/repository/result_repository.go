package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ResultRepository handles exam result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Replace removes any prior result for the (student, exam) pair and inserts
// the new one in a single transaction. On error the prior row is kept.
func (r *ResultRepository) Replace(ctx context.Context, res *model.Result) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM results WHERE student_id = $1 AND exam_id = $2`,
			res.StudentID, res.ExamID,
		); err != nil {
			return fmt.Errorf("delete prior result: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO results (student_id, exam_id, score, total_questions, taken_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			res.StudentID, res.ExamID, res.Score, res.TotalQuestions, res.TakenAt,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		return nil
	})
}

// GetByExamAndStudent returns the stored result for the pair.
func (r *ResultRepository) GetByExamAndStudent(ctx context.Context, examID, studentID int64) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT student_id, exam_id, score, total_questions, taken_at
		 FROM results WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&res.StudentID, &res.ExamID, &res.Score, &res.TotalQuestions, &res.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("result for student %d exam %d: %w", studentID, examID, ErrNotFound)
		}
		return nil, err
	}
	return res, nil
}

// ListByExam returns every stored result for an exam ordered by student.
func (r *ResultRepository) ListByExam(ctx context.Context, examID int64) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, exam_id, score, total_questions, taken_at
		 FROM results WHERE exam_id = $1
		 ORDER BY student_id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var res model.Result
		if err := rows.Scan(&res.StudentID, &res.ExamID, &res.Score, &res.TotalQuestions, &res.TakenAt); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
