package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	"github.com/stemsi/exstem-lockdown/internal/response"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/validator"
)

// examURI binds the :id path segment.
type examURI struct {
	ID int64 `uri:"id" binding:"required,gt=0"`
}

type studentURI struct {
	ID        int64 `uri:"id" binding:"required,gt=0"`
	StudentID int64 `uri:"student_id" binding:"required,gt=0"`
}

// MonitorHandler serves the proctor's read-only views of an exam.
type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// GetOverview godoc
// GET /api/v1/exams/:id/overview
func (h *MonitorHandler) GetOverview(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ov, err := h.monitorService.Overview(c.Request.Context(), uri.ID)
	if err != nil {
		h.fail(c, err, uri.ID)
		return
	}
	response.Success(c, http.StatusOK, ov)
}

// GetActivity godoc
// GET /api/v1/exams/:id/activity
// Per-student WINDOW_SWITCH counts.
func (h *MonitorHandler) GetActivity(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	counts, err := h.monitorService.ActivityCounts(c.Request.Context(), uri.ID, model.ActivityWindowSwitch)
	if err != nil {
		h.fail(c, err, uri.ID)
		return
	}

	type row struct {
		StudentID int64 `json:"student_id"`
		Count     int64 `json:"window_switch_count"`
	}
	rows := make([]row, 0, len(counts))
	for id, n := range counts {
		rows = append(rows, row{StudentID: id, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StudentID < rows[j].StudentID })
	response.SuccessList(c, http.StatusOK, rows, len(rows))
}

// GetResults godoc
// GET /api/v1/exams/:id/results
func (h *MonitorHandler) GetResults(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	results, err := h.monitorService.Results(c.Request.Context(), uri.ID)
	if err != nil {
		h.fail(c, err, uri.ID)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	response.SuccessList(c, http.StatusOK, results, len(results))
}

// GetStudentActivity godoc
// GET /api/v1/exams/:id/students/:student_id/activity
// One student's lockdown timeline, oldest first.
func (h *MonitorHandler) GetStudentActivity(c *gin.Context) {
	var uri studentURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	entries, err := h.monitorService.Timeline(c.Request.Context(), uri.ID, uri.StudentID)
	if err != nil {
		h.fail(c, err, uri.ID)
		return
	}
	response.SuccessList(c, http.StatusOK, entries, len(entries))
}

func (h *MonitorHandler) fail(c *gin.Context, err error, examID int64) {
	if errors.Is(err, repository.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	h.log.Error().Err(err).Int64("exam_id", examID).Msg("Monitor query failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
