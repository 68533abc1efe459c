package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/cache"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/jobs"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// JobHandler serves job status and result lookups.
type JobHandler struct {
	tracker *jobs.Tracker
	results *cache.ResultCache
	logger  *logrus.Logger
}

// NewJobHandler creates a job handler.
func NewJobHandler(tracker *jobs.Tracker, results *cache.ResultCache, logger *logrus.Logger) *JobHandler {
	return &JobHandler{tracker: tracker, results: results, logger: logger}
}

// GetJobStatus handles GET /api/v1/jobs/:job_id.
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	state, err := h.tracker.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "job not found", Code: "job_not_found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load job: " + err.Error(), Code: "internal_error",
		})
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result.
func (h *JobHandler) GetJobResult(c *gin.Context) {
	jobID := c.Param("job_id")
	result, err := h.results.GetByJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "result not found (expired or never completed)", Code: "result_not_found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load result: " + err.Error(), Code: "internal_error",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel. Terminal jobs are left
// untouched; the response reflects the state after the call.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.tracker.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "job not found", Code: "job_not_found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to cancel job: " + err.Error(), Code: "internal_error",
		})
		return
	}
	state, err := h.tracker.Get(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load job after cancel: " + err.Error(), Code: "internal_error",
		})
		return
	}
	c.JSON(http.StatusOK, state)
}
