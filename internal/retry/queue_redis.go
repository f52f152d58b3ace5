package retry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key naming for the retry queue. All keys share the prefix to avoid collisions.
const keyPrefix = "dialer:retry:"

// dueKey is the Sorted Set of call ids scored by due time (unix ms).
func dueKey(prefix string) string { return prefix + "due" }

// attemptKey is the Hash mapping call id to the scheduled attempt number.
func attemptKey(prefix string) string { return prefix + "attempt" }

// RedisQueue is a durable Queue backed by a Sorted Set plus a Hash.
// Claims are atomic (Lua), so several processes can poll the same queue.
type RedisQueue struct {
	client goredis.UniversalClient
	prefix string
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client goredis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = keyPrefix
	}
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) Put(ctx context.Context, e Entry) error {
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, dueKey(q.prefix), goredis.Z{Score: float64(e.DueAt.UnixMilli()), Member: e.CallID})
	pipe.HSet(ctx, attemptKey(q.prefix), e.CallID, e.Attempt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry/redis: put: %w", err)
	}
	return nil
}

var putIfAbsentScript = goredis.NewScript(`
-- KEYS[1] = due zset, KEYS[2] = attempt hash
-- ARGV[1] = call id, ARGV[2] = due (ms), ARGV[3] = attempt
if redis.call('ZSCORE', KEYS[1], ARGV[1]) ~= false then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

func (q *RedisQueue) PutIfAbsent(ctx context.Context, e Entry) (bool, error) {
	n, err := putIfAbsentScript.Run(ctx, q.client, []string{dueKey(q.prefix), attemptKey(q.prefix)},
		e.CallID, e.DueAt.UnixMilli(), e.Attempt).Int()
	if err != nil {
		return false, fmt.Errorf("retry/redis: put if absent: %w", err)
	}
	return n == 1, nil
}

func (q *RedisQueue) Get(ctx context.Context, callID string) (Entry, bool, error) {
	score, err := q.client.ZScore(ctx, dueKey(q.prefix), callID).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("retry/redis: get score: %w", err)
	}
	attempt, err := q.client.HGet(ctx, attemptKey(q.prefix), callID).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Entry{}, false, fmt.Errorf("retry/redis: get attempt: %w", err)
	}
	return Entry{CallID: callID, Attempt: attempt, DueAt: time.UnixMilli(int64(score)).UTC()}, true, nil
}

var removeScript = goredis.NewScript(`
-- KEYS[1] = due zset, KEYS[2] = attempt hash
-- ARGV[1] = call id, ARGV[2] = attempt (<= 0 matches any)
if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
  return 0
end
local want = tonumber(ARGV[2])
if want > 0 then
  local cur = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
  if cur ~= want then
    return 0
  end
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return 1
`)

func (q *RedisQueue) Remove(ctx context.Context, callID string, attempt int) (bool, error) {
	n, err := removeScript.Run(ctx, q.client, []string{dueKey(q.prefix), attemptKey(q.prefix)}, callID, attempt).Int()
	if err != nil {
		return false, fmt.Errorf("retry/redis: remove: %w", err)
	}
	return n == 1, nil
}

var claimScript = goredis.NewScript(`
-- KEYS[1] = due zset, KEYS[2] = attempt hash
-- ARGV[1] = now (ms), ARGV[2] = limit
-- Returns a flat list: call_id, attempt, due_ms, ...
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for i = 1, #ids, 2 do
  local id = ids[i]
  local attempt = redis.call('HGET', KEYS[2], id) or '0'
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', KEYS[2], id)
  table.insert(out, id)
  table.insert(out, attempt)
  table.insert(out, ids[i + 1])
end
return out
`)

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	vals, err := claimScript.Run(ctx, q.client, []string{dueKey(q.prefix), attemptKey(q.prefix)}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("retry/redis: claim: %w", err)
	}
	out := make([]Entry, 0, len(vals)/3)
	for i := 0; i+2 < len(vals); i += 3 {
		attempt, _ := strconv.Atoi(vals[i+1])
		due, _ := strconv.ParseFloat(vals[i+2], 64)
		out = append(out, Entry{CallID: vals[i], Attempt: attempt, DueAt: time.UnixMilli(int64(due)).UTC()})
	}
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, dueKey(q.prefix)).Result()
	if err != nil {
		return 0, fmt.Errorf("retry/redis: len: %w", err)
	}
	return int(n), nil
}
