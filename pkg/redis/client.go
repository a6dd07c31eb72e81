package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyNamespace    = "qb"
	rateLimitPrefix = "rate_limit"
	lockPrefix      = "lock"
)

type cmdable interface {
	redis.Scripter
	Ping(context.Context) *redis.StatusCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	ZRemRangeByScore(context.Context, string, string, string) *redis.IntCmd
	ZRangeByScoreWithScores(context.Context, string, *redis.ZRangeBy) *redis.ZSliceCmd
}

// admitScript trims the attempt log, counts every window and adds the new
// attempt only when all windows have room. Scores travel as strings because
// Lua formats large numbers with 14 significant digits.
//
// ARGV: now, member, ttl ms, trim bound, then (since bound, window us, limit)
// per window. Reply: admitted, retry us, count per window.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[4])
local admitted = 1
local retry = 0
local counts = {}
for i = 5, #ARGV, 3 do
  local since = ARGV[i]
  local window = tonumber(ARGV[i + 1])
  local limit = tonumber(ARGV[i + 2])
  local count = redis.call('ZCOUNT', key, since, '+inf')
  table.insert(counts, count)
  if count >= limit then
    admitted = 0
    local freeing = redis.call('ZRANGEBYSCORE', key, since, '+inf', 'WITHSCORES', 'LIMIT', count - limit, 1)
    local wait = window - (now - tonumber(freeing[2]))
    if wait > retry then
      retry = wait
    end
  end
end
if admitted == 1 then
  redis.call('ZADD', key, ARGV[1], ARGV[2])
  redis.call('PEXPIRE', key, ARGV[3])
end
local out = {admitted, retry}
for _, c in ipairs(counts) do
  table.insert(out, c)
end
return out
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// SlidingWindow is one limit checked by AdmitAttempt.
type SlidingWindow struct {
	Duration time.Duration
	Limit    int
}

// Admission is the outcome of AdmitAttempt.
type Admission struct {
	Admitted bool
	// RetryAfter is the wait until every full window frees a slot.
	RetryAfter time.Duration
	// Counts holds the attempts found in each window before this one.
	Counts []int
}

// Client wraps the redis connection helpers needed by the platform.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// New bootstraps a Redis client with pooling/timeouts and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(ctx, "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL == "" && cfg.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if opts.DB == 0 {
		opts.DB = cfg.DB
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// SetNX sets a value only if the key does not exist yet.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

// DelIfValue deletes key only while it still holds value, in one round trip.
func (c *Client) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	if c.store == nil {
		return false, errors.New("redis client not initialized")
	}
	n, err := releaseScript.Run(ctx, c.store, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AdmitAttempt atomically checks every window of the sorted set log at key
// and records member at the given instant only when all of them have room.
// Attempts older than the longest window are trimmed. The key expires after
// ttl, or the longest window when ttl is shorter.
func (c *Client) AdmitAttempt(ctx context.Context, key, member string, at time.Time, windows []SlidingWindow, ttl time.Duration) (Admission, error) {
	if c.store == nil {
		return Admission{}, errors.New("redis client not initialized")
	}
	if len(windows) == 0 {
		return Admission{}, errors.New("at least one window is required")
	}
	now := scoreOf(at)
	var longest time.Duration
	args := []any{formatScore(now), member, "", ""}
	for _, w := range windows {
		if w.Duration <= 0 || w.Limit <= 0 {
			return Admission{}, fmt.Errorf("invalid window %s/%d", w.Duration, w.Limit)
		}
		longest = max(longest, w.Duration)
		span := w.Duration.Microseconds()
		args = append(args,
			"("+formatScore(now-float64(span)),
			strconv.FormatInt(span, 10),
			strconv.Itoa(w.Limit),
		)
	}
	ttl = max(ttl, longest)
	args[2] = strconv.FormatInt(ttl.Milliseconds(), 10)
	args[3] = "(" + formatScore(now-float64(longest.Microseconds()))

	reply, err := admitScript.Run(ctx, c.store, []string{key}, args...).Int64Slice()
	if err != nil {
		return Admission{}, err
	}
	if len(reply) != 2+len(windows) {
		return Admission{}, fmt.Errorf("unexpected admit reply of %d values", len(reply))
	}
	out := Admission{
		Admitted:   reply[0] == 1,
		RetryAfter: time.Duration(reply[1]) * time.Microsecond,
		Counts:     make([]int, len(windows)),
	}
	for i := range windows {
		out.Counts[i] = int(reply[2+i])
	}
	return out, nil
}

// AttemptsSince trims entries older than since and returns the remaining
// timestamps, oldest first.
func (c *Client) AttemptsSince(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	if c.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	cutoff := "(" + formatScore(scoreOf(since))
	if err := c.store.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		return nil, err
	}
	entries, err := c.store.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: formatScore(scoreOf(since)),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(entries))
	for _, entry := range entries {
		out = append(out, timeOf(entry.Score))
	}
	return out, nil
}

// RateLimitKey returns a namespaced key for rate limit attempt logs.
func (c *Client) RateLimitKey(parts ...string) string {
	return c.buildKey(append([]string{rateLimitPrefix}, parts...)...)
}

// LockKey returns a namespaced key for distributed locks.
func (c *Client) LockKey(parts ...string) string {
	return c.buildKey(append([]string{lockPrefix}, parts...)...)
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return errors.New("redis client not initialized")
	}
	return c.store.Ping(ctx).Err()
}

// Close shuts down the underlying client if available.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *Client) buildKey(parts ...string) string {
	if len(parts) == 0 {
		return keyNamespace
	}
	clean := []string{keyNamespace}
	for _, part := range parts {
		if part == "" {
			continue
		}
		clean = append(clean, strings.TrimSpace(part))
	}
	return strings.Join(clean, ":")
}

// scores are microseconds since the epoch, exact in a float64 for current dates.
func scoreOf(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func timeOf(score float64) time.Time {
	return time.UnixMicro(int64(score)).UTC()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 0, 64)
}
