package branchexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// StaticOptions configures StaticExecutor.
type StaticOptions struct {
	// Fail lists branch ids that always return an error.
	Fail []string
	// Delay is waited before each branch answers.
	Delay time.Duration
}

// StaticExecutor returns canned reports for local development and demos.
type StaticExecutor struct {
	fail  map[string]struct{}
	delay time.Duration
}

var _ core.BranchExecutor = (*StaticExecutor)(nil)

// NewStaticExecutor constructs a StaticExecutor.
func NewStaticExecutor(opts StaticOptions) *StaticExecutor {
	fail := make(map[string]struct{}, len(opts.Fail))
	for _, id := range opts.Fail {
		fail[id] = struct{}{}
	}
	return &StaticExecutor{fail: fail, delay: opts.Delay}
}

// Execute implements core.BranchExecutor.
func (e *StaticExecutor) Execute(ctx context.Context, branchID, query string) (core.BranchOutput, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return core.BranchOutput{}, ctx.Err()
		case <-timer.C:
		}
	}
	if _, ok := e.fail[branchID]; ok {
		return core.BranchOutput{}, fmt.Errorf("static branch %s configured to fail", branchID)
	}
	return core.BranchOutput{Report: fixtureReport(branchID, brandFromQuery(query))}, nil
}

func fixtureReport(branchID, brand string) *model.BranchReport {
	slug := strings.ToLower(strings.Join(strings.Fields(brand), "-"))
	sentiments := []string{"positive", "neutral", "negative"}
	rep := &model.BranchReport{
		SourceID:     branchID,
		BrandName:    brand,
		PlatformName: branchID,
		ItemCount:    len(sentiments),
		SentimentBreakdown: model.SentimentBreakdown{
			Positive: 1,
			Neutral:  1,
			Negative: 1,
		},
		Highlights: []string{brand + " publishes supplier sustainability report"},
		Themes: []model.Theme{
			{Word: "sustainability", Weight: 3},
			{Word: "pricing", Weight: 2},
			{Word: "support", Weight: 1},
		},
	}
	for i, s := range sentiments {
		rep.Items = append(rep.Items, model.MentionItem{
			Date:           "Recent",
			Text:           fmt.Sprintf("%s mention %d of %s on %s", s, i+1, brand, branchID),
			Sentiment:      s,
			EthicalContext: "general business context",
			URL:            fmt.Sprintf("https://www.%s.com/%s/%d", branchID, slug, i+1),
		})
	}
	return rep
}

func brandFromQuery(query string) string {
	var q model.BrandQuery
	if err := json.Unmarshal([]byte(query), &q); err == nil && strings.TrimSpace(q.BrandName) != "" {
		return strings.TrimSpace(q.BrandName)
	}
	if s := strings.TrimSpace(query); s != "" {
		return s
	}
	return "unknown brand"
}
