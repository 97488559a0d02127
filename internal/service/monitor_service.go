package service

import (
	"context"
	"sort"

	"github.com/stemsi/exstem-lockdown/internal/model"
	"golang.org/x/sync/errgroup"
)

// MonitorReader is the read side the proctor station needs.
type MonitorReader interface {
	FetchExam(ctx context.Context, examID int64) (*model.Exam, error)
	ListResults(ctx context.Context, examID int64) ([]model.Result, error)
	CountActivity(ctx context.Context, examID int64, eventType model.ActivityType) (map[int64]int64, error)
	ListActivity(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error)
}

// MonitorService builds the proctor's view of one exam.
type MonitorService struct {
	store MonitorReader
}

func NewMonitorService(store MonitorReader) *MonitorService {
	return &MonitorService{store: store}
}

// StudentActivity is one student's lockdown record.
type StudentActivity struct {
	StudentID     int64 `json:"student_id"`
	WindowSwitch  int64 `json:"window_switch_count"`
	Inactivity    int64 `json:"inactivity_count"`
	Submitted     bool  `json:"submitted"`
	Score         *int  `json:"score,omitempty"`
	TotalQuestion int   `json:"total_questions,omitempty"`
}

// ExamOverview is the snapshot sent when a proctor attaches.
type ExamOverview struct {
	ExamID          int64             `json:"exam_id"`
	Title           string            `json:"title"`
	DurationMinutes int               `json:"duration_minutes"`
	Students        []StudentActivity `json:"students"`
	TotalViolations int64             `json:"total_violations"`
}

// Results lists stored results for an exam.
func (s *MonitorService) Results(ctx context.Context, examID int64) ([]model.Result, error) {
	if _, err := s.store.FetchExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, examID)
}

// ActivityCounts returns per-student counts of one event type.
func (s *MonitorService) ActivityCounts(ctx context.Context, examID int64, t model.ActivityType) (map[int64]int64, error) {
	if _, err := s.store.FetchExam(ctx, examID); err != nil {
		return nil, err
	}
	return s.store.CountActivity(ctx, examID, t)
}

// Timeline returns one student's activity entries for an exam, oldest first.
// A student with no entries yields an empty slice.
func (s *MonitorService) Timeline(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error) {
	if _, err := s.store.FetchExam(ctx, examID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListActivity(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.ActivityLogEntry{}
	}
	return entries, nil
}

// Overview fetches the exam, its results and violation counts concurrently.
// The exam and results are required; counts are best effort.
func (s *MonitorService) Overview(ctx context.Context, examID int64) (*ExamOverview, error) {
	var (
		exam      *model.Exam
		results   []model.Result
		switches  map[int64]int64
		inactive  map[int64]int64
		switchErr error
		idleErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		exam, err = s.store.FetchExam(gctx, examID)
		return err
	})
	g.Go(func() (err error) {
		results, err = s.store.ListResults(gctx, examID)
		return err
	})
	g.Go(func() error {
		switches, switchErr = s.store.CountActivity(gctx, examID, model.ActivityWindowSwitch)
		return nil
	})
	g.Go(func() error {
		inactive, idleErr = s.store.CountActivity(gctx, examID, model.ActivityInactivity)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if switchErr != nil {
		switches = nil
	}
	if idleErr != nil {
		inactive = nil
	}

	byStudent := make(map[int64]*StudentActivity)
	get := func(id int64) *StudentActivity {
		sa, ok := byStudent[id]
		if !ok {
			sa = &StudentActivity{StudentID: id}
			byStudent[id] = sa
		}
		return sa
	}

	ov := &ExamOverview{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
	}
	for _, r := range results {
		sa := get(r.StudentID)
		score := r.Score
		sa.Submitted = true
		sa.Score = &score
		sa.TotalQuestion = r.TotalQuestions
	}
	for id, n := range switches {
		get(id).WindowSwitch = n
		ov.TotalViolations += n
	}
	for id, n := range inactive {
		get(id).Inactivity = n
		ov.TotalViolations += n
	}

	ov.Students = make([]StudentActivity, 0, len(byStudent))
	for _, sa := range byStudent {
		ov.Students = append(ov.Students, *sa)
	}
	sort.Slice(ov.Students, func(i, j int) bool { return ov.Students[i].StudentID < ov.Students[j].StudentID })
	return ov, nil
}
