package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// releaseTimeout bounds the detached context used to release a lease.
const releaseTimeout = 5 * time.Second

// Lease is the execution token held for one owner key.
type Lease struct {
	Owner model.OwnerKey
	Token string
}

// Registry admits at most one execution per owner key.
type Registry interface {
	// TryAcquire registers a token for owner if none is active. ok is false when another
	// execution already holds the key.
	TryAcquire(ctx context.Context, owner model.OwnerKey) (lease Lease, ok bool, err error)
	// Release removes the token held by lease. Releasing an unknown or superseded lease is a no-op.
	Release(ctx context.Context, lease Lease) error
}

// Refresher is implemented by registries whose leases expire unless extended.
type Refresher interface {
	Refresh(ctx context.Context, lease Lease) error
	RefreshInterval() time.Duration
}

// ErrLeaseHeld is returned by WithLease when the key is already being executed.
var ErrLeaseHeld = errors.New("owner key already dispatched")

// WithLease acquires owner, runs fn, and releases the lease on every exit path.
func WithLease(ctx context.Context, reg Registry, owner model.OwnerKey, fn func(ctx context.Context) error) error {
	lease, ok, err := reg.TryAcquire(ctx, owner)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseHeld
	}
	return Hold(ctx, reg, lease, nil, fn)
}

// Hold runs fn while owning an already acquired lease. The lease is released when fn
// returns or panics; the panic is re-raised after release. When reg implements
// Refresher the lease is extended in the background until fn returns.
func Hold(
	ctx context.Context,
	reg Registry,
	lease Lease,
	logger *slog.Logger,
	fn func(ctx context.Context) error,
) error {
	if logger == nil {
		logger = slog.Default()
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := reg.Release(rctx, lease); err != nil {
			logger.WarnContext(rctx, "release dispatch lease failed", "owner", lease.Owner.String(), "error", err)
		}
	}()

	if r, ok := reg.(Refresher); ok && r.RefreshInterval() > 0 {
		hctx, stop := context.WithCancel(ctx)
		defer stop()
		go heartbeat(hctx, r, lease, logger)
	}

	return fn(ctx)
}

func heartbeat(ctx context.Context, r Refresher, lease Lease, logger *slog.Logger) {
	ticker := time.NewTicker(r.RefreshInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx, lease); err != nil && ctx.Err() == nil {
				logger.WarnContext(ctx, "refresh dispatch lease failed", "owner", lease.Owner.String(), "error", err)
			}
		}
	}
}

// LocalRegistry is the in-process registry backed by a mutex-guarded map.
type LocalRegistry struct {
	mu     sync.Mutex
	active map[model.OwnerKey]string
}

// NewLocalRegistry returns an empty LocalRegistry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{active: make(map[model.OwnerKey]string)}
}

// TryAcquire implements Registry.
func (r *LocalRegistry) TryAcquire(_ context.Context, owner model.OwnerKey) (Lease, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[owner]; busy {
		return Lease{}, false, nil
	}
	token := uuid.NewString()
	r.active[owner] = token
	return Lease{Owner: owner, Token: token}, true, nil
}

// Release implements Registry.
func (r *LocalRegistry) Release(_ context.Context, lease Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[lease.Owner] == lease.Token {
		delete(r.active, lease.Owner)
	}
	return nil
}

// Active reports whether owner currently holds a lease.
func (r *LocalRegistry) Active(owner model.OwnerKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[owner]
	return ok
}

// Len returns the number of active leases.
func (r *LocalRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
