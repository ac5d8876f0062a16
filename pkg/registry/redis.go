package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "visionzones:job:"

// updateScript applies the terminal-state guard server-side so concurrent
// writers from separate worker processes cannot resurrect a finished job.
var updateScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
local state = redis.call("HGET", key, "state")
if state == "SUCCEEDED" or state == "FAILED" then
  return 0
end
redis.call("HSET", key, "state", ARGV[1], "message", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// Redis is a Registry backed by a shared Redis instance, letting a worker
// process update jobs created by the API process.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	now     func() time.Time
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a registry on an existing client. The client is not
// closed by the registry; ownership stays with the caller.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client:  client,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

func (r *Redis) Create(jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	now := r.now().UTC().Format(time.RFC3339Nano)
	err := r.client.HSet(ctx, redisKeyPrefix+jobID,
		"job_id", jobID,
		"state", string(StateQueued),
		"message", "Queued",
		"created_at", now,
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("registry create %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) Update(jobID string, state State, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	now := r.now().UTC().Format(time.RFC3339Nano)
	err := updateScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + jobID},
		string(state), message, now,
	).Err()
	if err != nil {
		return fmt.Errorf("registry update %s: %w", jobID, err)
	}
	return nil
}

func (r *Redis) Get(jobID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	vals, err := r.client.HGetAll(ctx, redisKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("registry get %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	rec := &Record{
		JobID:   vals["job_id"],
		State:   State(vals["state"]),
		Message: vals["message"],
	}
	if t, err := time.Parse(time.RFC3339Nano, vals["created_at"]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}
