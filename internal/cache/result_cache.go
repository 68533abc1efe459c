// Package cache stores finished optimization results in Redis so repeated
// identical requests and job result lookups skip the solve entirely.
package cache

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

// ErrNotFound is returned on a cache miss.
var ErrNotFound = errors.New("result not found in cache")

// ResultCache persists OptimizeResponse payloads keyed by job id and by
// request fingerprint.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewResultCache creates a result cache with the given TTL.
func NewResultCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *ResultCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResultCache{client: client, ttl: ttl, logger: logger}
}

func jobKey(jobID string) string      { return fmt.Sprintf("result:job:%s", jobID) }
func fingerprintKey(fp string) string { return fmt.Sprintf("result:fp:%s", fp) }

// SetResult stores a finished result under both its job id and, when a
// fingerprint is given, the request fingerprint.
func (c *ResultCache) SetResult(ctx context.Context, jobID, fingerprint string, result *types.OptimizeResponse) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal optimize result: %w", err)
	}

	if err := c.client.Set(ctx, jobKey(jobID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache result for job %s: %w", jobID, err)
	}
	if fingerprint != "" {
		if err := c.client.Set(ctx, fingerprintKey(fingerprint), data, c.ttl).Err(); err != nil {
			return fmt.Errorf("failed to cache result fingerprint: %w", err)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"lineups": len(result.Lineups),
		"ttl":     c.ttl,
	}).Debug("Cached optimize result")
	return nil
}

// GetByJob retrieves a result by job id.
func (c *ResultCache) GetByJob(ctx context.Context, jobID string) (*types.OptimizeResponse, error) {
	return c.get(ctx, jobKey(jobID))
}

// GetByFingerprint retrieves a result by request fingerprint.
func (c *ResultCache) GetByFingerprint(ctx context.Context, fingerprint string) (*types.OptimizeResponse, error) {
	return c.get(ctx, fingerprintKey(fingerprint))
}

func (c *ResultCache) get(ctx context.Context, key string) (*types.OptimizeResponse, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result from cache: %w", err)
	}

	var result types.OptimizeResponse
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal optimize result: %w", err)
	}
	return &result, nil
}

// Delete removes a job's cached result.
func (c *ResultCache) Delete(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached result for job %s: %w", jobID, err)
	}
	return nil
}

// Status reports cache-level counters for the health endpoint.
func (c *ResultCache) Status(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service":   "result-cache",
		"timestamp": time.Now(),
		"connected": true,
	}
	if err := c.client.Ping(ctx).Err(); err != nil {
		status["connected"] = false
		status["error"] = err.Error()
		return status
	}
	if dbSize := c.client.DBSize(ctx); dbSize.Err() == nil {
		status["db_size"] = dbSize.Val()
	}
	if keys, err := c.client.Keys(ctx, "result:job:*").Result(); err == nil {
		status["result_keys"] = len(keys)
	}
	return status
}
