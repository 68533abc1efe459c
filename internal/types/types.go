package types

import (
	"fmt"
	"time"
)

// DriverRecord describes one driver in a slate. DriverID is a dense integer
// index into scenario matrix columns; DisplayID is the opaque ontology
// identifier used at export boundaries.
type DriverRecord struct {
	DriverID           int      `json:"driver_id"`
	DisplayID          string   `json:"display_id"`
	Name               string   `json:"name"`
	Team               string   `json:"team"`
	Salary             int      `json:"salary"`
	ProjectedPoints    float64  `json:"projected_points"`
	Skill              float64  `json:"skill"`
	RecentForm         float64  `json:"recent_form"`
	TrackArchetypeTag  string   `json:"track_archetype_tag"`
	ProjectedOwnership *float64 `json:"projected_ownership,omitempty"`
}

// Ownership returns the projected ownership percentage, or 0 when absent.
func (d DriverRecord) Ownership() float64 {
	if d.ProjectedOwnership == nil {
		return 0
	}
	return *d.ProjectedOwnership
}

// VetoRule forces a driver out of consideration for a stated reason.
type VetoRule struct {
	DriverID int    `json:"driver_id"`
	Reason   string `json:"reason"`
}

// TrackConstraints carries calibrated track-level factors.
type TrackConstraints struct {
	Difficulty       float64 `json:"difficulty"`
	AggressionFactor float64 `json:"aggression_factor"`
	CautionRate      float64 `json:"caution_rate"`
	PitWindow        int     `json:"pit_window"`
}

// ConstraintSpec bundles the per-driver and track constraints for a slate.
// Immutable per request.
type ConstraintSpec struct {
	SlateID  string           `json:"slate_id"`
	Locked   []int            `json:"locked"`
	Excluded []int            `json:"excluded"`
	Vetoes   []VetoRule       `json:"vetoes"`
	Track    TrackConstraints `json:"track"`
}

// Validate checks internal consistency of the constraint spec.
func (cs *ConstraintSpec) Validate() error {
	excluded := make(map[int]bool, len(cs.Excluded))
	for _, id := range cs.Excluded {
		excluded[id] = true
	}
	for _, id := range cs.Locked {
		if excluded[id] {
			return fmt.Errorf("driver %d is both locked and excluded", id)
		}
	}
	return nil
}

// LeverageMetrics aggregates ownership-based numbers for one lineup.
type LeverageMetrics struct {
	AvgOwnership   float64 `json:"avg_ownership"`
	MaxOwnership   float64 `json:"max_ownership"`
	TotalOwnership float64 `json:"total_ownership"`
	LeverageScore  float64 `json:"leverage_score"`
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobState is the persisted view of an optimize job.
type JobState struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ResultRef string    `json:"result_ref,omitempty"`
}

// ProgressUpdate is streamed to clients while a job runs.
type ProgressUpdate struct {
	JobID       string    `json:"job_id"`
	Type        string    `json:"type"`
	Progress    float64   `json:"progress"`
	Message     string    `json:"message"`
	CurrentStep string    `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorResponse is the standard API error envelope.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse is the standard API success envelope for non-result
// endpoints.
type SuccessResponse struct {
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NormalizeOwnership rescales a non-negative vector so it sums to 100.
// A zero vector is returned unchanged.
func NormalizeOwnership(ownership []float64) []float64 {
	total := 0.0
	for _, o := range ownership {
		total += o
	}
	out := make([]float64, len(ownership))
	if total <= 0 {
		copy(out, ownership)
		return out
	}
	for i, o := range ownership {
		out[i] = o / total * 100
	}
	return out
}
