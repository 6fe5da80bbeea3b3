package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

// DefaultRedisPrefix namespaces the per-job hashes.
const DefaultRedisPrefix = "genpipe:job"

const ensureLua = `
local function ensure(key, total)
	if redis.call('EXISTS', key) == 0 then
		redis.call('HSET', key, 'total', total, 'completed', 0, 'failed', 0,
			'started_at', 0, 'cancelled', 0, 'finished', 0)
	elseif tonumber(redis.call('HGET', key, 'total')) < tonumber(total) then
		redis.call('HSET', key, 'total', total)
	end
end
`

var (
	// KEYS[1] job hash; ARGV total, idle ttl ms.
	openScript = redis.NewScript(ensureLua + `
if redis.call('EXISTS', KEYS[1]) == 1 then
	if redis.call('HGET', KEYS[1], 'finished') == '1' then return 2 end
	return 1
end
ensure(KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 0
`)
	// ARGV total, now (unix micros), idle ttl ms.
	beginScript = redis.NewScript(ensureLua + `
ensure(KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
local started = redis.call('HGET', KEYS[1], 'started_at')
if started ~= '0' then return {0, started} end
redis.call('HSET', KEYS[1], 'started_at', ARGV[2])
return {1, ARGV[2]}
`)
	// ARGV total, counter field, idle ttl ms, retention ms.
	settleScript = redis.NewScript(ensureLua + `
ensure(KEYS[1], ARGV[1])
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
local v = redis.call('HMGET', KEYS[1], 'total', 'completed', 'failed', 'cancelled', 'finished', 'started_at')
local done = 0
if v[5] == '0' and tonumber(v[2]) + tonumber(v[3]) >= tonumber(v[1]) then
	redis.call('HSET', KEYS[1], 'finished', 1)
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	done = 1
elseif v[5] == '0' then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {v[1], v[2], v[3], done, v[4], v[6]}
`)
	cancelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HGET', KEYS[1], 'finished') == '1' then return 2 end
redis.call('HSET', KEYS[1], 'cancelled', 1)
return 1
`)
	// ARGV total, seed completed, seed failed, count, idle ttl ms.
	reopenScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'total', ARGV[1], 'completed', ARGV[2], 'failed', ARGV[3])
end
local failed = tonumber(redis.call('HGET', KEYS[1], 'failed')) - tonumber(ARGV[4])
if failed < 0 then failed = 0 end
redis.call('HSET', KEYS[1], 'failed', failed, 'started_at', 0, 'cancelled', 0, 'finished', 0)
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return {redis.call('HGET', KEYS[1], 'completed'), failed}
`)
)

// RedisStore keeps one hash per job so the API and every worker process see
// the same counters and cancel flag. Each transition runs as a Lua script and
// is therefore atomic.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	idle      time.Duration
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Finished jobs expire after
// retention; unfinished jobs expire after a week without activity.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("jobs: redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention, idle: 7 * 24 * time.Hour, now: time.Now}, nil
}

func (s *RedisStore) key(jobID uuid.UUID) string {
	return s.prefix + ":" + jobID.String()
}

// Open implements Store.
func (s *RedisStore) Open(ctx context.Context, jobID uuid.UUID, total int) error {
	code, err := openScript.Run(ctx, s.client, []string{s.key(jobID)}, total, s.idle.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("jobs: open %s: %w", jobID, err)
	}
	switch code {
	case 1:
		return ErrJobActive
	case 2:
		return ErrJobFinished
	}
	return nil
}

// Begin implements Store.
func (s *RedisStore) Begin(ctx context.Context, jobID uuid.UUID, total int) (Start, error) {
	now := s.now().UnixMicro()
	v, err := beginScript.Run(ctx, s.client, []string{s.key(jobID)}, total, now, s.idle.Milliseconds()).Int64Slice()
	if err != nil {
		return Start{}, fmt.Errorf("jobs: begin %s: %w", jobID, err)
	}
	if len(v) != 2 {
		return Start{}, fmt.Errorf("jobs: begin %s: unexpected reply %v", jobID, v)
	}
	return Start{First: v[0] == 1, StartedAt: time.UnixMicro(v[1]).UTC()}, nil
}

// Settle implements Store.
func (s *RedisStore) Settle(ctx context.Context, jobID uuid.UUID, total int, succeeded bool) (Tally, error) {
	field := "failed"
	if succeeded {
		field = "completed"
	}
	v, err := settleScript.Run(ctx, s.client, []string{s.key(jobID)},
		total, field, s.idle.Milliseconds(), s.retention.Milliseconds()).Int64Slice()
	if err != nil {
		return Tally{}, fmt.Errorf("jobs: settle %s: %w", jobID, err)
	}
	if len(v) != 6 {
		return Tally{}, fmt.Errorf("jobs: settle %s: unexpected reply %v", jobID, v)
	}
	t := Tally{
		Total:     int(v[0]),
		Completed: int(v[1]),
		Failed:    int(v[2]),
		Done:      v[3] == 1,
		Cancelled: v[4] == 1,
	}
	t.Processed = t.Completed + t.Failed
	if v[5] != 0 {
		t.StartedAt = time.UnixMicro(v[5]).UTC()
	}
	return t, nil
}

// Cancel implements Store.
func (s *RedisStore) Cancel(ctx context.Context, jobID uuid.UUID) error {
	code, err := cancelScript.Run(ctx, s.client, []string{s.key(jobID)}).Int64()
	if err != nil {
		return fmt.Errorf("jobs: cancel %s: %w", jobID, err)
	}
	switch code {
	case 0:
		return ErrUnknownJob
	case 2:
		return ErrJobFinished
	}
	return nil
}

// Cancelled implements Store.
func (s *RedisStore) Cancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	v, err := s.client.HGet(ctx, s.key(jobID), "cancelled").Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("jobs: cancelled %s: %w", jobID, err)
	}
	flag, _ := strconv.ParseBool(v)
	return flag, nil
}

// Reopen implements Store.
func (s *RedisStore) Reopen(ctx context.Context, jobID uuid.UUID, counts domain.JobCounts, total, count int) (domain.JobCounts, error) {
	v, err := reopenScript.Run(ctx, s.client, []string{s.key(jobID)},
		total, counts.CompletedItems, counts.FailedItems, count, s.idle.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.JobCounts{}, fmt.Errorf("jobs: reopen %s: %w", jobID, err)
	}
	if len(v) != 2 {
		return domain.JobCounts{}, fmt.Errorf("jobs: reopen %s: unexpected reply %v", jobID, v)
	}
	return domain.JobCounts{JobID: jobID, CompletedItems: int(v[0]), FailedItems: int(v[1])}, nil
}

// Drop implements Store.
func (s *RedisStore) Drop(ctx context.Context, jobID uuid.UUID) error {
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("jobs: drop %s: %w", jobID, err)
	}
	return nil
}
