package data

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-mentions-api/internal/domain/analysis"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

const (
	dispatchKeyPrefix = "mentions:dispatch:"
	minDispatchTTL    = time.Second
)

// releaseScript deletes the lease key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease TTL only when it still holds the caller's token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLeaseLost is returned by Refresh when the lease expired or was taken over.
var ErrLeaseLost = errors.New("dispatch lease lost")

// RedisDispatchRegistry is a distributed dispatch registry. A lease is a key set with NX
// and a TTL; holders extend it while they run and delete it with a compare-and-delete.
type RedisDispatchRegistry struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var (
	_ analysis.Registry  = (*RedisDispatchRegistry)(nil)
	_ analysis.Refresher = (*RedisDispatchRegistry)(nil)
)

// NewRedisDispatchRegistry creates a registry whose leases expire after ttl unless refreshed.
func NewRedisDispatchRegistry(client redis.UniversalClient, ttl time.Duration) *RedisDispatchRegistry {
	if ttl < minDispatchTTL {
		ttl = minDispatchTTL
	}
	return &RedisDispatchRegistry{client: client, ttl: ttl}
}

func dispatchKey(owner model.OwnerKey) string {
	return dispatchKeyPrefix + url.PathEscape(owner.UserID) + "/" + url.PathEscape(owner.SessionID)
}

// TryAcquire implements analysis.Registry.
func (r *RedisDispatchRegistry) TryAcquire(ctx context.Context, owner model.OwnerKey) (analysis.Lease, bool, error) {
	token := uuid.NewString()
	// SET with NX and TTL in one command; SETNX followed by EXPIRE is not atomic.
	status, err := r.client.SetArgs(ctx, dispatchKey(owner), token, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return analysis.Lease{}, false, nil
		}
		return analysis.Lease{}, false, fmt.Errorf("redis SET NX: %w", err)
	}
	if status != "OK" {
		return analysis.Lease{}, false, nil
	}
	return analysis.Lease{Owner: owner, Token: token}, true, nil
}

// Release implements analysis.Registry.
func (r *RedisDispatchRegistry) Release(ctx context.Context, lease analysis.Lease) error {
	if lease.Token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{dispatchKey(lease.Owner)}, lease.Token).Err(); err != nil {
		return fmt.Errorf("redis release lease: %w", err)
	}
	return nil
}

// Refresh implements analysis.Refresher.
func (r *RedisDispatchRegistry) Refresh(ctx context.Context, lease analysis.Lease) error {
	n, err := refreshScript.Run(ctx, r.client, []string{dispatchKey(lease.Owner)}, lease.Token, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis refresh lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RefreshInterval implements analysis.Refresher; leases are extended at a third of their TTL.
func (r *RedisDispatchRegistry) RefreshInterval() time.Duration {
	return r.ttl / 3
}

// Held reports whether owner currently has a live lease.
func (r *RedisDispatchRegistry) Held(ctx context.Context, owner model.OwnerKey) (bool, error) {
	n, err := r.client.Exists(ctx, dispatchKey(owner)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
