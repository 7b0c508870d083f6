package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	apperrors "github.com/target/mmk-mentions-api/internal/errors"
	"github.com/target/mmk-mentions-api/internal/mocks"
	"github.com/target/mmk-mentions-api/internal/testutil"
)

type funcExecutor func(ctx context.Context, branch, query string) (core.BranchOutput, error)

func (f funcExecutor) Execute(ctx context.Context, branch, query string) (core.BranchOutput, error) {
	return f(ctx, branch, query)
}

var owner = model.OwnerKey{UserID: "u1", SessionID: "s1"}

func newAggregator(t *testing.T, exec core.BranchExecutor) *Aggregator {
	t.Helper()
	agg, err := New(Options{Executor: exec})
	require.NoError(t, err)
	return agg
}

func outcomeFor(t *testing.T, res *Result, branch string) Outcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.Branch == branch {
			return o
		}
	}
	t.Fatalf("no outcome for branch %s", branch)
	return Outcome{}
}

func decodeReport(t *testing.T, raw json.RawMessage) model.BranchReport {
	t.Helper()
	var rep model.BranchReport
	require.NoError(t, json.Unmarshal(raw, &rep))
	return rep
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestRun_NoBranches(t *testing.T) {
	agg := newAggregator(t, funcExecutor(func(context.Context, string, string) (core.BranchOutput, error) {
		return core.BranchOutput{}, nil
	}))

	_, err := agg.Run(context.Background(), Request{Owner: owner, Branches: []string{" ", ""}})
	require.Error(t, err)
	assert.True(t, apperrors.IsOrchestration(err))
}

func TestRun_PartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockBranchExecutor(ctrl)
	query := testutil.BrandQuery("Acme Corp")

	for _, branch := range []string{"twitter", "linkedin", "reddit"} {
		exec.EXPECT().Execute(gomock.Any(), branch, query).
			Return(core.BranchOutput{Report: testutil.BranchReportFixture(branch, 2)}, nil)
	}
	exec.EXPECT().Execute(gomock.Any(), "news", query).
		Return(core.BranchOutput{}, errors.New("provider returned 500"))

	res, err := newAggregator(t, exec).Run(context.Background(), Request{
		Owner:    owner,
		Query:    query,
		Branches: []string{"twitter", "linkedin", "reddit", "news"},
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	require.Len(t, res.Merged.Branches, 4)
	assert.JSONEq(t, `{}`, string(res.Merged.Branches["news"]))
	for _, branch := range []string{"twitter", "linkedin", "reddit"} {
		rep := decodeReport(t, res.Merged.Branches[branch])
		assert.Equal(t, branch, rep.SourceID)
		assert.Len(t, rep.Items, 2)
	}
	assert.Equal(t, model.MergeSummary{TotalItems: 6, Succeeded: 3, Failed: 1}, res.Merged.Summary)

	news := outcomeFor(t, res, "news")
	assert.Equal(t, model.BranchFailed, news.Status)
	assert.True(t, apperrors.IsBranchFailure(news.Err))
	assert.Equal(t, "news", apperrors.GetField(news.Err))
	assert.False(t, res.Interrupted)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "u1", payload["user_id"])
	assert.Equal(t, "s1", payload["session_id"])
}

func TestRun_AllBranchesTimeOut(t *testing.T) {
	agg := newAggregator(t, funcExecutor(func(ctx context.Context, _, _ string) (core.BranchOutput, error) {
		<-ctx.Done()
		return core.BranchOutput{}, ctx.Err()
	}))

	res, err := agg.Run(context.Background(), Request{
		Owner:    owner,
		Query:    "q",
		Branches: []string{"twitter", "linkedin", "reddit", "news"},
		Timeout:  30 * time.Millisecond,
	})
	require.NoError(t, err)

	for branch, raw := range res.Merged.Branches {
		assert.JSONEq(t, `{}`, string(raw), branch)
	}
	assert.Len(t, res.Merged.Branches, 4)
	assert.Equal(t, 4, res.Merged.Summary.TimedOut)
	for _, o := range res.Outcomes {
		assert.Equal(t, model.BranchTimedOut, o.Status)
	}
}

func TestRun_PanicIsContained(t *testing.T) {
	agg := newAggregator(t, funcExecutor(func(_ context.Context, branch, _ string) (core.BranchOutput, error) {
		if branch == "reddit" {
			panic("boom")
		}
		return core.BranchOutput{Report: testutil.BranchReportFixture(branch, 1)}, nil
	}))

	res, err := agg.Run(context.Background(), Request{
		Owner:    owner,
		Branches: []string{"twitter", "reddit"},
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{}`, string(res.Merged.Branches["reddit"]))
	reddit := outcomeFor(t, res, "reddit")
	assert.Equal(t, model.BranchPanicked, reddit.Status)
	require.Error(t, reddit.Err)
	assert.Contains(t, reddit.Err.Error(), "branch panicked")
	assert.Equal(t, 1, res.Merged.Summary.Failed)
	assert.Equal(t, 1, res.Merged.Summary.Succeeded)
}

func TestRun_LateResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	var lateReturned atomic.Bool
	agg := newAggregator(t, funcExecutor(func(_ context.Context, branch, _ string) (core.BranchOutput, error) {
		if branch == "slow" {
			<-release
			lateReturned.Store(true)
		}
		return core.BranchOutput{Report: testutil.BranchReportFixture(branch, 1)}, nil
	}))

	res, err := agg.Run(context.Background(), Request{
		Owner:    owner,
		Branches: []string{"fast", "slow"},
		Timeout:  30 * time.Millisecond,
	})
	require.NoError(t, err)
	close(release)

	assert.Equal(t, model.BranchTimedOut, outcomeFor(t, res, "slow").Status)
	assert.JSONEq(t, `{}`, string(res.Merged.Branches["slow"]))
	assert.Eventually(t, lateReturned.Load, time.Second, 5*time.Millisecond)
	// The merged result is already final.
	assert.JSONEq(t, `{}`, string(res.Merged.Branches["slow"]))
	assert.Equal(t, model.BranchSucceeded, outcomeFor(t, res, "fast").Status)
}

func TestRun_AcmeScenario(t *testing.T) {
	query := testutil.BrandQuery("Acme Corp")
	agg := newAggregator(t, funcExecutor(func(ctx context.Context, branch, q string) (core.BranchOutput, error) {
		assert.Equal(t, query, q)
		switch branch {
		case "newsA":
			return core.BranchOutput{Report: testutil.BranchReportFixture("newsA", 3)}, nil
		default:
			<-ctx.Done()
			return core.BranchOutput{}, ctx.Err()
		}
	}))

	res, err := agg.Run(context.Background(), Request{
		Owner:    owner,
		Query:    query,
		Branches: []string{"newsA", "newsB"},
		Timeout:  40 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Len(t, res.Merged.Branches, 2)
	newsA := decodeReport(t, res.Merged.Branches["newsA"])
	assert.Len(t, newsA.Items, 3)
	assert.Equal(t, 3, newsA.ItemCount)
	assert.JSONEq(t, `{}`, string(res.Merged.Branches["newsB"]))
	assert.Equal(t, model.MergeSummary{TotalItems: 3, Succeeded: 1, TimedOut: 1}, res.Merged.Summary)
}

func TestRun_DeduplicatesBranches(t *testing.T) {
	var calls atomic.Int32
	agg := newAggregator(t, funcExecutor(func(context.Context, string, string) (core.BranchOutput, error) {
		calls.Add(1)
		return core.BranchOutput{Raw: []byte(`[]`)}, nil
	}))

	res, err := agg.Run(context.Background(), Request{
		Owner:    owner,
		Branches: []string{"news", "news", " news "},
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, res.Outcomes, 1)
}

func TestRun_ParentCancellationInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	agg := newAggregator(t, funcExecutor(func(ctx context.Context, _, _ string) (core.BranchOutput, error) {
		close(started)
		<-ctx.Done()
		return core.BranchOutput{}, ctx.Err()
	}))

	go func() {
		<-started
		cancel()
	}()

	res, err := agg.Run(ctx, Request{Owner: owner, Branches: []string{"news"}, Timeout: time.Minute})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, model.BranchTimedOut, res.Outcomes[0].Status)
}
