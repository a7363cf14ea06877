package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/model"
)

const mirrorKeyPrefix = "job:"

// StatusMirror copies every job transition into Redis so sidecar consumers
// (dashboards, the UI renderer) can poll status without hitting the API.
// Strictly best-effort: mirror failures are logged and never fail a job.
type StatusMirror struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewStatusMirror(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *StatusMirror {
	return &StatusMirror{rdb: rdb, ttl: ttl, log: log}
}

// Set writes the job snapshot under job:<id> with the retention TTL.
func (m *StatusMirror) Set(ctx context.Context, job *model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		m.log.Warn("failed to marshal job for mirror", zap.String("jobId", job.ID), zap.Error(err))
		return
	}

	key := fmt.Sprintf("%s%s", mirrorKeyPrefix, job.ID)
	if err := m.rdb.Set(ctx, key, data, m.ttl).Err(); err != nil {
		m.log.Debug("job status mirror unavailable", zap.String("jobId", job.ID), zap.Error(err))
	}
}

// Get reads a mirrored job snapshot. Used by operational tooling and tests.
func (m *StatusMirror) Get(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := m.rdb.Get(ctx, mirrorKeyPrefix+jobID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
