package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix  = "ingest:job:"
	lockKeyPrefix = "ingest:lock:"
)

// JobTracker records ingestion job progress and guards channels against
// concurrent ingestion runs. With Redis available, locks and job state are
// shared across replicas; without it they are process-local.
type JobTracker struct {
	rdb *redis.Client
	ttl time.Duration

	mu     sync.Mutex
	jobs   map[string]JobStatus
	locked map[string]bool
}

func NewJobTracker(rdb *redis.Client, ttl time.Duration) *JobTracker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JobTracker{
		rdb:    rdb,
		ttl:    ttl,
		jobs:   make(map[string]JobStatus),
		locked: make(map[string]bool),
	}
}

// TryLock acquires the per-channel ingestion lock. It returns false when
// another ingestion run holds the lock, and a release func otherwise.
func (t *JobTracker) TryLock(ctx context.Context, channelID string) (bool, func()) {
	if t.rdb != nil {
		key := lockKeyPrefix + channelID
		ok, err := t.rdb.SetNX(ctx, key, "1", t.ttl).Result()
		if err != nil || !ok {
			return false, nil
		}
		return true, func() { t.rdb.Del(context.Background(), key) }
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locked[channelID] {
		return false, nil
	}
	t.locked[channelID] = true
	return true, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.locked, channelID)
	}
}

// Set stores or updates a job's status.
func (t *JobTracker) Set(ctx context.Context, status JobStatus) {
	if t.rdb != nil {
		if b, err := json.Marshal(status); err == nil {
			t.rdb.Set(ctx, jobKeyPrefix+status.JobID, b, t.ttl)
		}
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[status.JobID] = status
}

// Get returns a job's status if known.
func (t *JobTracker) Get(ctx context.Context, jobID string) (JobStatus, bool) {
	if t.rdb != nil {
		b, err := t.rdb.Get(ctx, jobKeyPrefix+jobID).Bytes()
		if err != nil {
			return JobStatus{}, false
		}
		var status JobStatus
		if err := json.Unmarshal(b, &status); err != nil {
			return JobStatus{}, false
		}
		return status, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.jobs[jobID]
	return status, ok
}
