package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.AnalysisStatus
		want     bool
	}{
		{StatusNone, model.AnalysisStatusPending, true},
		{model.AnalysisStatusFailed, model.AnalysisStatusPending, true},
		{model.AnalysisStatusPending, model.AnalysisStatusRunning, true},
		{model.AnalysisStatusPending, model.AnalysisStatusFailed, true},
		{model.AnalysisStatusRunning, model.AnalysisStatusCompleted, true},
		{model.AnalysisStatusRunning, model.AnalysisStatusFailed, true},
		{model.AnalysisStatusCompleted, model.AnalysisStatusRunning, false},
		{model.AnalysisStatusCompleted, model.AnalysisStatusPending, false},
		{model.AnalysisStatusPending, model.AnalysisStatusCompleted, false},
		{model.AnalysisStatusFailed, model.AnalysisStatusRunning, false},
		{StatusNone, model.AnalysisStatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%q -> %q", tt.from, tt.to)
	}
}

func TestCanReset(t *testing.T) {
	assert.True(t, CanReset(StatusNone, ResetSubmit))
	assert.True(t, CanReset(model.AnalysisStatusFailed, ResetSubmit))
	assert.False(t, CanReset(model.AnalysisStatusCompleted, ResetSubmit))
	assert.True(t, CanReset(model.AnalysisStatusCompleted, ResetForce))
	assert.False(t, CanReset(model.AnalysisStatusFailed, ResetForce))
	assert.True(t, CanReset(model.AnalysisStatusRunning, ResetReclaim))
	assert.True(t, CanReset(model.AnalysisStatusPending, ResetReclaim))
	assert.False(t, CanReset(model.AnalysisStatusCompleted, ResetReclaim))
	assert.False(t, CanReset(model.AnalysisStatusFailed, ResetReason("other")))
}

type recordingStore struct {
	upserts   []model.UpsertPendingParams
	sets      []model.SetStatusParams
	completed map[model.OwnerKey]json.RawMessage
	err       error
}

func (s *recordingStore) UpsertPending(_ context.Context, p model.UpsertPendingParams) (*model.AnalysisRecord, error) {
	s.upserts = append(s.upserts, p)
	if s.err != nil {
		return nil, s.err
	}
	return &model.AnalysisRecord{Owner: p.Owner, Query: p.Query, Status: model.AnalysisStatusPending}, nil
}

func (s *recordingStore) SetStatus(_ context.Context, p model.SetStatusParams) error {
	s.sets = append(s.sets, p)
	return s.err
}

func (s *recordingStore) SetCompleted(_ context.Context, owner model.OwnerKey, results json.RawMessage) error {
	if s.completed == nil {
		s.completed = map[model.OwnerKey]json.RawMessage{}
	}
	s.completed[owner] = results
	return s.err
}

func TestStatusMachine_Reset(t *testing.T) {
	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}
	ctx := context.Background()

	t.Run("submit only resets failed rows", func(t *testing.T) {
		store := &recordingStore{}
		m := NewStatusMachine(store, nil)

		rec, err := m.Reset(ctx, ResetRequest{Owner: owner, Query: "Acme", From: StatusNone, Reason: ResetSubmit})
		require.NoError(t, err)
		assert.Equal(t, model.AnalysisStatusPending, rec.Status)
		require.Len(t, store.upserts, 1)
		assert.Equal(t, []model.AnalysisStatus{model.AnalysisStatusFailed}, store.upserts[0].AllowFrom)
		assert.Nil(t, store.upserts[0].UpdatedBefore)
	})

	t.Run("reclaim guards on staleness", func(t *testing.T) {
		store := &recordingStore{}
		m := NewStatusMachine(store, nil)
		cutoff := time.Now().Add(-time.Hour)

		_, err := m.Reset(ctx, ResetRequest{
			Owner: owner, Query: "Acme", From: model.AnalysisStatusRunning,
			Reason: ResetReclaim, StaleBefore: &cutoff,
		})
		require.NoError(t, err)
		require.Len(t, store.upserts, 1)
		assert.Equal(t, []model.AnalysisStatus{model.AnalysisStatusRunning}, store.upserts[0].AllowFrom)
		assert.Equal(t, &cutoff, store.upserts[0].UpdatedBefore)
	})

	t.Run("completed without force is rejected before any write", func(t *testing.T) {
		store := &recordingStore{}
		m := NewStatusMachine(store, nil)

		_, err := m.Reset(ctx, ResetRequest{Owner: owner, Query: "Acme", From: model.AnalysisStatusCompleted, Reason: ResetSubmit})
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, store.upserts)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		store := &recordingStore{err: model.ErrStaleTransition}
		m := NewStatusMachine(store, nil)

		_, err := m.Reset(ctx, ResetRequest{Owner: owner, Query: "Acme", From: model.AnalysisStatusFailed, Reason: ResetSubmit})
		assert.ErrorIs(t, err, model.ErrStaleTransition)
	})
}

func TestStatusMachine_Lifecycle(t *testing.T) {
	owner := model.OwnerKey{UserID: "u1", SessionID: "s1"}
	ctx := context.Background()
	store := &recordingStore{}
	m := NewStatusMachine(store, nil)

	require.NoError(t, m.Start(ctx, owner))
	require.NoError(t, m.Complete(ctx, owner, json.RawMessage(`{"branches":{}}`)))
	require.NoError(t, m.Fail(ctx, owner, model.AnalysisStatusRunning, ""))

	require.Len(t, store.sets, 2)
	assert.Equal(t, model.AnalysisStatusRunning, store.sets[0].To)
	assert.Equal(t, model.AnalysisStatusFailed, store.sets[1].To)
	require.NotNil(t, store.sets[1].ErrorMessage)
	assert.Equal(t, "analysis failed", *store.sets[1].ErrorMessage)
	assert.JSONEq(t, `{"branches":{}}`, string(store.completed[owner]))

	err := m.Fail(ctx, owner, model.AnalysisStatusCompleted, "nope")
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.AnalysisStatusCompleted, terr.From)

	assert.Error(t, m.Complete(ctx, owner, nil))
}

func TestStatusMachine_WriteFailure(t *testing.T) {
	store := &recordingStore{err: errors.New("connection reset")}
	m := NewStatusMachine(store, nil)

	err := m.Start(context.Background(), model.OwnerKey{UserID: "u1", SessionID: "s1"})
	assert.EqualError(t, err, "connection reset")
}
