package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// ViewCacheService caches completed analysis views.
// Completed views are immutable until the owner key is re-submitted, which invalidates the entry.
type ViewCacheService struct {
	cache  CacheRepository
	ttl    time.Duration
	maxAge time.Duration
	now    func() time.Time
}

// ViewCacheConfig holds configuration for view caching.
type ViewCacheConfig struct {
	TTL time.Duration `json:"ttl"`
	// MaxAge is the retention window of completed analyses. An entry never outlives the
	// row it mirrors: its TTL is capped at UpdatedAt+MaxAge. Zero disables the cap.
	MaxAge time.Duration `json:"max_age"`
}

// ViewCacheServiceOptions bundles dependencies for NewViewCacheService.
type ViewCacheServiceOptions struct {
	Cache  CacheRepository
	Config ViewCacheConfig
	Clock  func() time.Time
}

// DefaultViewCacheConfig returns a ViewCacheConfig with sensible defaults.
func DefaultViewCacheConfig() ViewCacheConfig {
	return ViewCacheConfig{
		TTL: 10 * time.Minute,
	}
}

// NewViewCacheService creates a new ViewCacheService. A nil cache yields a disabled service.
func NewViewCacheService(opts ViewCacheServiceOptions) *ViewCacheService {
	ttl := opts.Config.TTL
	if ttl <= 0 {
		ttl = DefaultViewCacheConfig().TTL
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &ViewCacheService{cache: opts.Cache, ttl: ttl, maxAge: opts.Config.MaxAge, now: now}
}

// Enabled reports whether a backing cache is configured.
func (s *ViewCacheService) Enabled() bool {
	return s != nil && s.cache != nil
}

// Get returns the cached view for owner, or nil on a miss.
func (s *ViewCacheService) Get(ctx context.Context, owner model.OwnerKey) (*model.AnalysisView, error) {
	if !s.Enabled() {
		return nil, nil
	}
	raw, err := s.cache.Get(ctx, viewKey(owner))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v model.AnalysisView
	if err := json.Unmarshal(raw, &v); err != nil {
		// A corrupt entry is dropped so the next read repopulates it.
		_, delErr := s.cache.Delete(ctx, viewKey(owner))
		return nil, errors.Join(fmt.Errorf("decode cached view: %w", err), delErr)
	}
	if v.UserID != owner.UserID || v.SessionID != owner.SessionID {
		return nil, nil
	}
	return &v, nil
}

// Put caches a completed view. Views in any other status are ignored.
func (s *ViewCacheService) Put(ctx context.Context, v *model.AnalysisView) error {
	if !s.Enabled() || v == nil || v.Status != model.AnalysisStatusCompleted {
		return nil
	}
	ttl := s.ttl
	if s.maxAge > 0 {
		remaining := v.UpdatedAt.Add(s.maxAge).Sub(s.now())
		if remaining <= 0 {
			return nil
		}
		ttl = min(ttl, remaining)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	return s.cache.Set(ctx, viewKey(model.OwnerKey{UserID: v.UserID, SessionID: v.SessionID}), raw, ttl)
}

// Invalidate removes the cached view for owner.
func (s *ViewCacheService) Invalidate(ctx context.Context, owner model.OwnerKey) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.cache.Delete(ctx, viewKey(owner))
	return err
}

// viewKey generates a cache key for an analysis view. Each part is escaped so that no
// two owners share a key.
func viewKey(owner model.OwnerKey) string {
	return "mentions:view:" + url.PathEscape(owner.UserID) + "/" + url.PathEscape(owner.SessionID)
}
