package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/storage"
	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// ConstraintHandler serves slate constraint reads and writes.
type ConstraintHandler struct {
	store  storage.SlateStore
	logger *logrus.Logger
}

// NewConstraintHandler creates a constraint handler.
func NewConstraintHandler(store storage.SlateStore, logger *logrus.Logger) *ConstraintHandler {
	return &ConstraintHandler{store: store, logger: logger}
}

// GetConstraints handles GET /api/v1/slates/:slate_id/constraints.
func (h *ConstraintHandler) GetConstraints(c *gin.Context) {
	slateID := c.Param("slate_id")
	spec, err := h.store.GetConstraints(c.Request.Context(), slateID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load constraints: " + err.Error(), Code: "internal_error",
		})
		return
	}
	c.JSON(http.StatusOK, spec)
}

// SaveConstraints handles PUT /api/v1/slates/:slate_id/constraints.
func (h *ConstraintHandler) SaveConstraints(c *gin.Context) {
	slateID := c.Param("slate_id")

	var spec types.ConstraintSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: "Invalid constraint body: " + err.Error(), Code: "invalid_request",
		})
		return
	}
	spec.SlateID = slateID

	if err := h.store.SaveConstraints(c.Request.Context(), &spec); err != nil {
		if errors.Is(err, storage.ErrSlateNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "slate not found", Code: "slate_not_found",
			})
			return
		}
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error: err.Error(), Code: "invalid_constraints",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"slate_id": slateID,
		"locked":   len(spec.Locked),
		"excluded": len(spec.Excluded),
		"vetoes":   len(spec.Vetoes),
	}).Info("Constraints saved")

	c.JSON(http.StatusOK, types.SuccessResponse{Message: "Constraints saved"})
}

// GetDrivers handles GET /api/v1/slates/:slate_id/drivers.
func (h *ConstraintHandler) GetDrivers(c *gin.Context) {
	slateID := c.Param("slate_id")
	drivers, err := h.store.GetDrivers(c.Request.Context(), slateID)
	if err != nil {
		if errors.Is(err, storage.ErrSlateNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error: "slate not found", Code: "slate_not_found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error: "failed to load drivers: " + err.Error(), Code: "internal_error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"slate_id": slateID, "drivers": drivers})
}
