// Package testutil provides testing utilities and helpers for the mentions analysis service.
package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// SubmitRequestBuilder provides a fluent interface for building SubmitRequest objects for testing.
type SubmitRequestBuilder struct {
	req model.SubmitRequest
}

// NewSubmitRequest creates a new SubmitRequestBuilder with sensible defaults.
func NewSubmitRequest() *SubmitRequestBuilder {
	return &SubmitRequestBuilder{
		req: model.SubmitRequest{
			Owner: model.OwnerKey{UserID: "u1", SessionID: "s1"},
			Query: BrandQuery("Acme Corp"),
		},
	}
}

// WithOwner sets the owner key.
func (b *SubmitRequestBuilder) WithOwner(userID, sessionID string) *SubmitRequestBuilder {
	b.req.Owner = model.OwnerKey{UserID: userID, SessionID: sessionID}
	return b
}

// WithQuery sets the raw query payload.
func (b *SubmitRequestBuilder) WithQuery(query string) *SubmitRequestBuilder {
	b.req.Query = query
	return b
}

// WithBrand sets the query to the encoded brand query for name.
func (b *SubmitRequestBuilder) WithBrand(name string) *SubmitRequestBuilder {
	b.req.Query = BrandQuery(name)
	return b
}

// WithForce marks the request as a forced re-run.
func (b *SubmitRequestBuilder) WithForce() *SubmitRequestBuilder {
	b.req.Force = true
	return b
}

// Build returns the constructed SubmitRequest.
func (b *SubmitRequestBuilder) Build() model.SubmitRequest {
	return b.req
}

// BrandQuery returns the encoded query for a brand with no category or location.
func BrandQuery(name string) string {
	q, err := model.BrandQuery{BrandName: name}.Encode()
	if err != nil {
		//nolint:forbidigo // test helper misuse should fail loudly
		panic(err)
	}
	return q
}

// AnalysisRecordBuilder provides a fluent interface for building AnalysisRecord fixtures.
type AnalysisRecordBuilder struct {
	rec model.AnalysisRecord
}

// NewAnalysisRecord creates a pending record for u1/s1 created at TestTime.
func NewAnalysisRecord() *AnalysisRecordBuilder {
	now := TestTime()
	return &AnalysisRecordBuilder{
		rec: model.AnalysisRecord{
			ID:        "00000000-0000-0000-0000-000000000001",
			Owner:     model.OwnerKey{UserID: "u1", SessionID: "s1"},
			Query:     BrandQuery("Acme Corp"),
			Status:    model.AnalysisStatusPending,
			Attempts:  1,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// WithOwner sets the owner key.
func (b *AnalysisRecordBuilder) WithOwner(userID, sessionID string) *AnalysisRecordBuilder {
	b.rec.Owner = model.OwnerKey{UserID: userID, SessionID: sessionID}
	return b
}

// WithStatus sets the status.
func (b *AnalysisRecordBuilder) WithStatus(status model.AnalysisStatus) *AnalysisRecordBuilder {
	b.rec.Status = status
	return b
}

// UpdatedAgo moves UpdatedAt d before TestTime.
func (b *AnalysisRecordBuilder) UpdatedAgo(d time.Duration) *AnalysisRecordBuilder {
	b.rec.UpdatedAt = TestTime().Add(-d)
	return b
}

// Completed marks the record completed with results.
func (b *AnalysisRecordBuilder) Completed(results string) *AnalysisRecordBuilder {
	b.rec.Status = model.AnalysisStatusCompleted
	b.rec.Results = json.RawMessage(results)
	b.rec.ErrorMessage = nil
	return b
}

// Failed marks the record failed with msg.
func (b *AnalysisRecordBuilder) Failed(msg string) *AnalysisRecordBuilder {
	b.rec.Status = model.AnalysisStatusFailed
	b.rec.ErrorMessage = &msg
	b.rec.Results = nil
	return b
}

// Build returns a copy of the constructed record.
func (b *AnalysisRecordBuilder) Build() *model.AnalysisRecord {
	rec := b.rec
	return &rec
}

// BranchReportFixture returns a normalised report with n items for branch.
func BranchReportFixture(branch string, n int) *model.BranchReport {
	rep := &model.BranchReport{
		SourceID:     branch,
		BrandName:    "Acme Corp",
		PlatformName: branch,
		ItemCount:    n,
		SentimentBreakdown: model.SentimentBreakdown{
			Positive: n,
		},
		Highlights: []string{"fair labour pledge"},
		Themes:     []model.Theme{{Word: "quality", Weight: 3}},
	}
	for i := 0; i < n; i++ {
		rep.Items = append(rep.Items, model.MentionItem{
			Date:      "2024-01-01",
			Text:      fmt.Sprintf("%s mention %d", branch, i+1),
			Sentiment: "positive",
			URL:       fmt.Sprintf("https://www.%s.example.co.uk/post/%d", branch, i+1),
		})
	}
	rep.Normalize(branch)
	return rep
}
