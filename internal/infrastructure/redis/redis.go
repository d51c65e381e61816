package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campusevents/registration-service/internal/domain"
)

const defaultPolicyTTL = 5 * time.Minute

// Cache holds read-side event policy snapshots so refund previews don't hit
// postgres on every request. TTL bounds staleness; writers never invalidate.
type Cache struct {
	Client    *redis.Client
	PolicyTTL time.Duration
}

func New(addr, pass string, db int, policyTTL time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	if policyTTL <= 0 {
		policyTTL = defaultPolicyTTL
	}
	return &Cache{Client: rdb, PolicyTTL: policyTTL}
}

func (c *Cache) GetEventPolicy(ctx context.Context, eventID uuid.UUID) (domain.RefundPolicy, error) {
	val, err := c.Client.Get(ctx, "event:policy:"+eventID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.RefundPolicy{}, domain.ErrCacheMiss
		}
		return domain.RefundPolicy{}, err
	}
	var p domain.RefundPolicy
	if err := json.Unmarshal(val, &p); err != nil {
		// treat a corrupt entry as a miss so the caller falls back to the DB
		return domain.RefundPolicy{}, domain.ErrCacheMiss
	}
	return p, nil
}

func (c *Cache) SetEventPolicy(ctx context.Context, eventID uuid.UUID, p domain.RefundPolicy) error {
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, "event:policy:"+eventID.String(), val, c.PolicyTTL).Err()
}

// AllowRequest: Simple Fixed Window Rate Limit
func (c *Cache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := "ratelimit:" + key
	count, err := c.Client.Incr(ctx, k).Result()
	if err != nil {
		return true, nil // fail open
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, k, window).Err()
	}
	return count <= int64(limit), nil
}
