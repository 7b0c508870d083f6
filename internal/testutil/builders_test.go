package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

func TestAnalysisRecordBuilder(t *testing.T) {
	rec := NewAnalysisRecord().Build()
	assert.Equal(t, TestTime(), rec.CreatedAt)
	assert.Equal(t, TestTime(), rec.UpdatedAt)
	assert.Equal(t, model.AnalysisStatusPending, rec.Status)

	old := NewAnalysisRecord().UpdatedAgo(time.Hour).Failed("boom").Build()
	assert.Equal(t, TestTime().Add(-time.Hour), old.UpdatedAt)
	assert.Equal(t, model.AnalysisStatusFailed, old.Status)
	assert.Empty(t, old.Results)
}
