package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/cache"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/export"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// ExportHandler serves finished portfolios in DraftKings upload format.
type ExportHandler struct {
	results *cache.ResultCache
	logger  *logrus.Logger
}

// NewExportHandler creates an export handler.
func NewExportHandler(results *cache.ResultCache, logger *logrus.Logger) *ExportHandler {
	return &ExportHandler{results: results, logger: logger}
}

// ExportCSV handles GET /api/v1/jobs/:job_id/export.csv.
func (h *ExportHandler) ExportCSV(c *gin.Context) {
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

	body, warnings, err := export.FromResults(result.Lineups)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.ErrorResponse{
			Error: "export failed: " + err.Error(), Code: "export_failed",
		})
		return
	}
	for _, w := range warnings {
		h.logger.WithFields(logrus.Fields{
			"job_id":  jobID,
			"warning": w,
		}).Warn("Export fallback applied")
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s-lineups.csv", result.SlateID))
	c.Data(http.StatusOK, "text/csv", []byte(body))
}
