package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vitalscore/internal/cohort"
)

// ReportCache keeps recent cohort reports in redis so repeated dashboard
// loads do not recompute the whole cohort. A nil client disables it.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

// NewRedisClient returns nil when addr is empty.
func NewRedisClient(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

func reportKey(program, asOf string) string {
	return fmt.Sprintf("vitalscore:cohort:%s:%s", program, asOf)
}

// Get returns the cached report, or nil on a miss.
func (c *ReportCache) Get(ctx context.Context, program, asOf string) (*cohort.Report, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	b, err := c.client.Get(ctx, reportKey(program, asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached report: %w", err)
	}
	var rep cohort.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return &rep, nil
}

func (c *ReportCache) Set(ctx context.Context, program string, rep *cohort.Report) error {
	if c == nil || c.client == nil {
		return nil
	}
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(program, rep.AsOf), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache report: %w", err)
	}
	return nil
}
