package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
	"github.com/codeforge/orchestrator/internal/orcherr"
)

// mirrorTTL bounds how long a stale status mirror entry survives a job
// whose Delete call never reached Redis (e.g. the process crashed between
// the filesystem write and the mirror write).
const mirrorTTL = 72 * time.Hour

// RedisMirror is an optional read replica of job status for distributed
// deployments where GET /orchestrate/{jobId} may land on a process other
// than the one running the job (SPEC_FULL.md Part C). It mirrors only the
// lightweight status projection, never the authoritative file contents;
// the filesystem remains the source of truth, grounded on the teacher's
// core/redis_client.go DB-isolation + namespacing conventions.
type RedisMirror struct {
	client    *redis.Client
	namespace string
	logger    logging.Logger
}

// statusView is the subset of Job mirrored to Redis for a cheap status read.
type statusView struct {
	ID           string
	State        job.State
	Progress     int
	CurrentPhase string
	Iteration    int
	NeedsHelpFor string
	UpdatedAt    time.Time
}

// NewRedisMirror connects to redisURL, selecting Redis DB db when it is in
// 0-15 (this overrides any DB named in the URL), pings the server, and
// returns a ready mirror.
func NewRedisMirror(redisURL string, db int, namespace string, logger logging.Logger) (*RedisMirror, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, orcherr.New("store.NewRedisMirror", orcherr.KindConfig, "", "invalid redis URL", err)
	}
	if db >= 0 && db <= 15 {
		opt.DB = db
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, orcherr.New("store.NewRedisMirror", orcherr.KindStorage, "", "connecting to redis", err)
	}
	return &RedisMirror{client: client, namespace: namespace, logger: logger.WithComponent("orchestrator/store/redis")}, nil
}

func (m *RedisMirror) key(jobID string) string {
	if m.namespace == "" {
		return "codeforge:status:" + jobID
	}
	return m.namespace + ":status:" + jobID
}

// SetStatus writes j's status projection with a TTL safety net.
func (m *RedisMirror) SetStatus(j *job.Job) error {
	view := statusView{
		ID: j.ID, State: j.State, Progress: j.Progress, CurrentPhase: j.CurrentPhase,
		Iteration: j.Iteration, NeedsHelpFor: j.NeedsHelpFor, UpdatedAt: j.Timestamps.LastUpdatedAt,
	}
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.client.Set(ctx, m.key(j.ID), data, mirrorTTL).Err()
}

// Delete removes jobID's mirrored status entry.
func (m *RedisMirror) Delete(jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.client.Del(ctx, m.key(jobID)).Err()
}

// Close releases the underlying connection pool.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
