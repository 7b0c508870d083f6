// Package devseed populates a development store with analyses in every status.
package devseed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// SeedUserID owns every seeded analysis.
const SeedUserID = "dev-seed"

var allStatuses = []model.AnalysisStatus{
	model.AnalysisStatusPending,
	model.AnalysisStatusRunning,
	model.AnalysisStatusCompleted,
	model.AnalysisStatusFailed,
}

type seedSpec struct {
	session string
	brand   string
	target  model.AnalysisStatus
	errMsg  string
}

func defaultSeeds() []seedSpec {
	return []seedSpec{
		{session: "pending-acme", brand: "Acme Corp", target: model.AnalysisStatusPending},
		{session: "running-globex", brand: "Globex", target: model.AnalysisStatusRunning},
		{session: "completed-initech", brand: "Initech", target: model.AnalysisStatusCompleted},
		{session: "failed-umbrella", brand: "Umbrella", target: model.AnalysisStatusFailed, errMsg: "all branches failed"},
	}
}

// Run seeds one analysis per status under SeedUserID. Existing seed rows are reset, so
// the command can be repeated.
func Run(ctx context.Context, repo core.AnalysisRepository, logger *slog.Logger) error {
	if repo == nil {
		return errors.New("analysis repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	failures := 0
	for _, spec := range defaultSeeds() {
		if err := seedAnalysis(ctx, repo, spec); err != nil {
			logger.ErrorContext(ctx, "failed to seed analysis", "session_id", spec.session, "error", err)
			failures++
			continue
		}
		logger.InfoContext(ctx, "seeded analysis", "session_id", spec.session, "status", spec.target)
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedAnalysis(ctx context.Context, repo core.AnalysisRepository, spec seedSpec) error {
	owner := model.OwnerKey{UserID: SeedUserID, SessionID: spec.session}
	query, err := model.BrandQuery{BrandName: spec.brand}.Encode()
	if err != nil {
		return err
	}

	if _, err = repo.UpsertPending(ctx, model.UpsertPendingParams{
		Owner:     owner,
		Query:     query,
		AllowFrom: allStatuses,
	}); err != nil {
		return fmt.Errorf("reset to pending: %w", err)
	}
	if spec.target == model.AnalysisStatusPending {
		return nil
	}

	if err = repo.SetStatus(ctx, model.SetStatusParams{
		Owner: owner,
		From:  model.AnalysisStatusPending,
		To:    model.AnalysisStatusRunning,
	}); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	switch spec.target {
	case model.AnalysisStatusCompleted:
		results, encErr := sampleResults(owner, spec.brand)
		if encErr != nil {
			return encErr
		}
		return repo.SetCompleted(ctx, owner, results)
	case model.AnalysisStatusFailed:
		msg := spec.errMsg
		return repo.SetStatus(ctx, model.SetStatusParams{
			Owner:        owner,
			From:         model.AnalysisStatusRunning,
			To:           model.AnalysisStatusFailed,
			ErrorMessage: &msg,
		})
	default:
		return nil
	}
}

// sampleResults builds a merged result with one populated branch and one empty branch.
func sampleResults(owner model.OwnerKey, brand string) (json.RawMessage, error) {
	report := &model.BranchReport{
		SourceID:     "news",
		BrandName:    brand,
		PlatformName: "News",
		SentimentBreakdown: model.SentimentBreakdown{
			Positive: 1,
			Neutral:  1,
		},
		Highlights: []string{"announced a supplier code of conduct"},
		Themes:     []model.Theme{{Word: "sustainability", Weight: 2}},
		Items: []model.MentionItem{
			{Date: "2026-01-12", Text: brand + " publishes supplier audit", Sentiment: "positive", URL: "https://news.example.com/a/1"},
			{Date: "2026-01-14", Text: brand + " quarterly update", Sentiment: "neutral", URL: "https://www.example.co.uk/b/2"},
		},
	}
	report.Normalize("news")

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode sample report: %w", err)
	}
	merged := model.MergedResult{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
		Branches: map[string]json.RawMessage{
			"news":    payload,
			"twitter": model.EmptyBranch,
		},
		Summary: model.MergeSummary{TotalItems: report.ItemCount, Succeeded: 1, Failed: 1},
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode sample results: %w", err)
	}
	return out, nil
}
