package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	"github.com/target/mmk-mentions-api/internal/mocks"
)

func TestViewCacheService_Disabled(t *testing.T) {
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{})
	ctx := context.Background()

	assert.False(t, svc.Enabled())
	v, err := svc.Get(ctx, model.OwnerKey{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, svc.Put(ctx, &model.AnalysisView{Status: model.AnalysisStatusCompleted}))
	require.NoError(t, svc.Invalidate(ctx, model.OwnerKey{UserID: "u1", SessionID: "s1"}))
}

func TestViewCacheService_PutAndGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{
		Cache:  cache,
		Config: core.ViewCacheConfig{TTL: time.Minute},
	})
	ctx := context.Background()
	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}

	view := &model.AnalysisView{
		UserID:    "u1",
		SessionID: "s1",
		Status:    model.AnalysisStatusCompleted,
		Results:   json.RawMessage(`{"branches":{}}`),
	}

	var stored []byte
	cache.EXPECT().
		Set(gomock.Any(), "mentions:view:u1/s1", gomock.Any(), time.Minute).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			stored = value
			return nil
		})
	require.NoError(t, svc.Put(ctx, view))

	cache.EXPECT().Get(gomock.Any(), "mentions:view:u1/s1").Return(stored, nil)
	got, err := svc.Get(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.AnalysisStatusCompleted, got.Status)
	assert.JSONEq(t, `{"branches":{}}`, string(got.Results))
}

func TestViewCacheService_SkipsNonTerminalViews(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{Cache: cache})

	// No Set expectation: gomock fails the test if Put writes.
	require.NoError(t, svc.Put(context.Background(), &model.AnalysisView{Status: model.AnalysisStatusRunning}))
}

func TestViewCacheService_CorruptEntryIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{Cache: cache})
	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}

	cache.EXPECT().Get(gomock.Any(), "mentions:view:u1/s1").Return([]byte("{not json"), nil)
	cache.EXPECT().Delete(gomock.Any(), "mentions:view:u1/s1").Return(true, nil)

	v, err := svc.Get(context.Background(), owner)
	require.Error(t, err)
	assert.Nil(t, v)
}

func TestViewCacheService_MissAndError(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{Cache: cache})
	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}

	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)
	v, err := svc.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Nil(t, v)

	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))
	_, err = svc.Get(context.Background(), owner)
	assert.EqualError(t, err, "redis down")

	cache.EXPECT().Delete(gomock.Any(), "mentions:view:u1/s1").Return(false, nil)
	require.NoError(t, svc.Invalidate(context.Background(), owner))
}

func TestViewCacheService_OwnersWithSeparatorsDoNotShareKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{Cache: cache})
	ctx := context.Background()

	stored := map[string][]byte{}
	cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, value []byte, _ time.Duration) error {
			stored[key] = value
			return nil
		})
	cache.EXPECT().Get(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string) ([]byte, error) {
			return stored[key], nil
		}).Times(2)

	require.NoError(t, svc.Put(ctx, &model.AnalysisView{
		UserID:    "acme/eu",
		SessionID: "s1",
		Status:    model.AnalysisStatusCompleted,
		Results:   json.RawMessage(`{"branches":{}}`),
	}))
	assert.Contains(t, stored, "mentions:view:acme%2Feu/s1")

	other, err := svc.Get(ctx, model.OwnerKey{UserID: "acme", SessionID: "eu/s1"})
	require.NoError(t, err)
	assert.Nil(t, other, "another owner must never see this view")

	own, err := svc.Get(ctx, model.OwnerKey{UserID: "acme/eu", SessionID: "s1"})
	require.NoError(t, err)
	require.NotNil(t, own)
	assert.Equal(t, "acme/eu", own.UserID)
}

func TestViewCacheService_IgnoresEntryOfAnotherOwner(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{Cache: cache})

	raw, err := json.Marshal(&model.AnalysisView{UserID: "u2", SessionID: "s1", Status: model.AnalysisStatusCompleted})
	require.NoError(t, err)
	cache.EXPECT().Get(gomock.Any(), "mentions:view:u1/s1").Return(raw, nil)

	v, err := svc.Get(context.Background(), model.OwnerKey{UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestViewCacheService_TTLNeverOutlivesRetention(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	retention := 7 * 24 * time.Hour
	svc := core.NewViewCacheService(core.ViewCacheServiceOptions{
		Cache:  cache,
		Config: core.ViewCacheConfig{TTL: 10 * time.Minute, MaxAge: retention},
		Clock:  func() time.Time { return now },
	})
	ctx := context.Background()

	fresh := &model.AnalysisView{UserID: "u1", SessionID: "s1", Status: model.AnalysisStatusCompleted, UpdatedAt: now}
	cache.EXPECT().Set(gomock.Any(), "mentions:view:u1/s1", gomock.Any(), 10*time.Minute).Return(nil)
	require.NoError(t, svc.Put(ctx, fresh))

	nearlyExpired := &model.AnalysisView{
		UserID: "u1", SessionID: "s1", Status: model.AnalysisStatusCompleted,
		UpdatedAt: now.Add(-retention + time.Minute),
	}
	cache.EXPECT().Set(gomock.Any(), "mentions:view:u1/s1", gomock.Any(), time.Minute).Return(nil)
	require.NoError(t, svc.Put(ctx, nearlyExpired))

	// Past the retention window the row may already be gone; no Set expectation.
	expired := &model.AnalysisView{
		UserID: "u1", SessionID: "s1", Status: model.AnalysisStatusCompleted,
		UpdatedAt: now.Add(-retention - time.Second),
	}
	require.NoError(t, svc.Put(ctx, expired))
}
