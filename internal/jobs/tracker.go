// Package jobs tracks optimize job lifecycle state in Redis.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/nascar-tail-optimizer/internal/types"
)

// ErrJobNotFound is returned when a job id has no state (never created or
// expired).
var ErrJobNotFound = errors.New("job not found")

func jobKey(jobID string) string { return fmt.Sprintf("job:%s", jobID) }

// Tracker persists JobState records with a TTL. Progress updates are
// monotonic: a stale update can never move a job's progress backwards.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewTracker creates a job tracker. States expire after ttl.
func NewTracker(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{client: client, ttl: ttl, logger: logger}
}

// Create registers a new pending job.
func (t *Tracker) Create(ctx context.Context, jobID string) (*types.JobState, error) {
	now := time.Now()
	state := &types.JobState{
		JobID:     jobID,
		Status:    types.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.save(ctx, state); err != nil {
		return nil, err
	}
	t.logger.WithField("job_id", jobID).Info("Job created")
	return state, nil
}

// Get loads a job's current state.
func (t *Tracker) Get(ctx context.Context, jobID string) (*types.JobState, error) {
	data, err := t.client.Get(ctx, jobKey(jobID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	var state types.JobState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &state, nil
}

// SetRunning transitions a job to running.
func (t *Tracker) SetRunning(ctx context.Context, jobID string) error {
	return t.update(ctx, jobID, func(state *types.JobState) {
		state.Status = types.JobRunning
	})
}

// UpdateProgress advances a running job's progress in [0, 1]. Regressions
// are dropped silently; out-of-order updates from concurrent stages must not
// make the progress bar jump backwards.
func (t *Tracker) UpdateProgress(ctx context.Context, jobID string, progress float64) error {
	return t.update(ctx, jobID, func(state *types.JobState) {
		if progress > state.Progress {
			state.Progress = progress
		}
	})
}

// Complete marks a job finished, pointing at its cached result.
func (t *Tracker) Complete(ctx context.Context, jobID, resultRef string) error {
	err := t.update(ctx, jobID, func(state *types.JobState) {
		state.Status = types.JobComplete
		state.Progress = 1
		state.ResultRef = resultRef
	})
	if err == nil {
		t.logger.WithField("job_id", jobID).Info("Job complete")
	}
	return err
}

// Fail marks a job failed with its error message.
func (t *Tracker) Fail(ctx context.Context, jobID, message string) error {
	err := t.update(ctx, jobID, func(state *types.JobState) {
		state.Status = types.JobFailed
		state.Error = message
	})
	if err == nil {
		t.logger.WithFields(logrus.Fields{
			"job_id": jobID,
			"error":  message,
		}).Warn("Job failed")
	}
	return err
}

// Cancel marks a job cancelled. Terminal states are left untouched.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	return t.update(ctx, jobID, func(state *types.JobState) {
		if state.Status == types.JobComplete || state.Status == types.JobFailed {
			return
		}
		state.Status = types.JobCancelled
	})
}

func (t *Tracker) update(ctx context.Context, jobID string, mutate func(*types.JobState)) error {
	state, err := t.Get(ctx, jobID)
	if err != nil {
		return err
	}
	mutate(state)
	state.UpdatedAt = time.Now()
	return t.save(ctx, state)
}

func (t *Tracker) save(ctx context.Context, state *types.JobState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", state.JobID, err)
	}
	if err := t.client.Set(ctx, jobKey(state.JobID), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", state.JobID, err)
	}
	return nil
}
