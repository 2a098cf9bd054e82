package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erp/reconciler/internal/domain/intake"
	"github.com/erp/reconciler/internal/infrastructure/scheduler"
	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/erp/reconciler/internal/interfaces/http/middleware"
)

// PollTrigger starts manual polls and reports the periodic trigger state
type PollTrigger interface {
	TriggerManualPoll(platform intake.PlatformCode, start, end time.Time) (*scheduler.PollJob, error)
	Stats() map[string]any
}

// PollHistory lists finished poll runs, newest first
type PollHistory interface {
	GetJobHistory(limit int) []*scheduler.PollJob
}

// PollHandler exposes the platform poller
type PollHandler struct {
	BaseHandler
	trigger PollTrigger
	history PollHistory
}

// NewPollHandler creates a PollHandler
func NewPollHandler(trigger PollTrigger, history PollHistory) *PollHandler {
	return &PollHandler{trigger: trigger, history: history}
}

// TriggerPollRequest is the window of a manual poll
type TriggerPollRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

// PollJobResponse describes one poll run
type PollJobResponse struct {
	ID          uuid.UUID  `json:"id"`
	Platform    string     `json:"platform"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Pages       int        `json:"pages"`
	Pulled      int        `json:"pulled"`
	Accepted    int        `json:"accepted"`
	Duplicates  int        `json:"duplicates"`
	Malformed   int        `json:"malformed"`
	Failed      int        `json:"failed"`
}

// PollStatusResponse is the trigger state plus recent runs
type PollStatusResponse struct {
	Trigger map[string]any    `json:"trigger"`
	Recent  []PollJobResponse `json:"recent"`
}

func toPollJobResponse(j *scheduler.PollJob) PollJobResponse {
	return PollJobResponse{
		ID:          j.ID,
		Platform:    string(j.Platform),
		StartTime:   j.StartTime,
		EndTime:     j.EndTime,
		Status:      string(j.Status),
		Error:       j.Error,
		RetryCount:  j.RetryCount,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Pages:       j.Pages,
		Pulled:      j.Pulled,
		Accepted:    j.Accepted,
		Duplicates:  j.Duplicates,
		Malformed:   j.Malformed,
		Failed:      j.Failed,
	}
}

// Trigger polls one platform for an explicit window.
//
// POST /polls/:platform
func (h *PollHandler) Trigger(c *gin.Context) {
	platform, err := intake.ParsePlatform(c.Param("platform"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	var req TriggerPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	job, err := h.trigger.TriggerManualPoll(platform, req.StartTime, req.EndTime)
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrPollInvalidWindow):
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "end_time must follow start_time within the allowed window")
		return
	case errors.Is(err, scheduler.ErrPollAlreadyInProgress):
		h.ErrorWithCode(c, dto.ErrCodeConflict, "A poll of this platform is already in progress")
		return
	case errors.Is(err, scheduler.ErrJobQueueFull), errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.ErrorWithCode(c, dto.ErrCodeUnavailable, "Poller is not accepting jobs")
		return
	default:
		h.HandleError(c, err)
		return
	}

	// The job belongs to a poll worker now; only its immutable fields are read.
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(PollJobResponse{
		ID:        job.ID,
		Platform:  string(job.Platform),
		StartTime: job.StartTime,
		EndTime:   job.EndTime,
		Status:    string(scheduler.PollJobStatusPending),
	}))
}

// Status returns the trigger state and the most recent poll runs.
//
// GET /polls
func (h *PollHandler) Status(c *gin.Context) {
	jobs := h.history.GetJobHistory(20)
	recent := make([]PollJobResponse, len(jobs))
	for i, j := range jobs {
		recent[i] = toPollJobResponse(j)
	}
	h.Success(c, PollStatusResponse{Trigger: h.trigger.Stats(), Recent: recent})
}
