package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOwnerKey(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		sessionID string
		wantField string
	}{
		{name: "valid", userID: "u1", sessionID: "s1"},
		{name: "trimmed", userID: "  u1 ", sessionID: "\ts1"},
		{name: "missing user", userID: " ", sessionID: "s1", wantField: "user_id"},
		{name: "missing session", userID: "u1", sessionID: "", wantField: "session_id"},
		{name: "control character", userID: "u\x001", sessionID: "s1", wantField: "user_id"},
		{name: "too long", userID: "u1", sessionID: strings.Repeat("s", MaxOwnerPartLength+1), wantField: "session_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewOwnerKey(tt.userID, tt.sessionID)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "u1/s1", key.String())
				return
			}
			var keyErr *OwnerKeyError
			require.ErrorAs(t, err, &keyErr)
			assert.Equal(t, tt.wantField, keyErr.Field)
		})
	}
}

func TestOwnerKey_ValidateRejectsUntrimmed(t *testing.T) {
	err := OwnerKey{UserID: " u1", SessionID: "s1"}.Validate()
	assert.Error(t, err)
}

func TestAnalysisStatus(t *testing.T) {
	assert.True(t, AnalysisStatusPending.InFlight())
	assert.True(t, AnalysisStatusRunning.InFlight())
	assert.False(t, AnalysisStatusFailed.InFlight())
	assert.True(t, AnalysisStatusCompleted.Terminal())
	assert.True(t, AnalysisStatusFailed.Terminal())
	assert.False(t, AnalysisStatus("done").Valid())

	var s AnalysisStatus
	require.NoError(t, s.UnmarshalText([]byte(" Completed ")))
	assert.Equal(t, AnalysisStatusCompleted, s)
	assert.Error(t, s.UnmarshalText([]byte("queued")))
}

func TestSubmitRequest_Validate(t *testing.T) {
	req := SubmitRequest{Owner: OwnerKey{UserID: "u1", SessionID: "s1"}, Query: "Acme Corp"}
	require.NoError(t, req.Validate())

	req.Query = "   "
	assert.ErrorIs(t, req.Validate(), ErrQueryRequired)

	req.Query = strings.Repeat("q", MaxQueryLength+1)
	assert.ErrorIs(t, req.Validate(), ErrQueryTooLong)
}

func TestAnalysisRecord_View(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "boom"

	t.Run("failed exposes error only", func(t *testing.T) {
		rec := &AnalysisRecord{
			ID:           "id-1",
			Owner:        OwnerKey{UserID: "u1", SessionID: "s1"},
			Status:       AnalysisStatusFailed,
			ErrorMessage: &msg,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		v := rec.View()
		require.NotNil(t, v.ErrorMessage)
		assert.Equal(t, "boom", *v.ErrorMessage)
		assert.Nil(t, v.Results)

		b, err := json.Marshal(v)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "id-1")
		assert.NotContains(t, string(b), "attempts")
	})

	t.Run("completed exposes results only", func(t *testing.T) {
		rec := &AnalysisRecord{
			Owner:   OwnerKey{UserID: "u1", SessionID: "s1"},
			Status:  AnalysisStatusCompleted,
			Results: json.RawMessage(`{"branches":{}}`),
		}
		v := rec.View()
		assert.Nil(t, v.ErrorMessage)
		assert.JSONEq(t, `{"branches":{}}`, string(v.Results))
	})

	t.Run("nil record", func(t *testing.T) {
		var rec *AnalysisRecord
		assert.Nil(t, rec.View())
	})
}

func TestBrandQuery_Encode(t *testing.T) {
	q, err := BrandQuery{BrandName: " Acme Corp ", Location: "US"}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"brand_name":"Acme Corp","location":"US"}`, q)

	_, err = BrandQuery{Category: "retail"}.Encode()
	assert.ErrorIs(t, err, ErrBrandNameRequired)
}

func TestAnalysisStats_Total(t *testing.T) {
	assert.Equal(t, 10, AnalysisStats{Pending: 1, Running: 2, Completed: 3, Failed: 4}.Total())
}
