// Package aggregator fans one analysis out to its branches and merges what comes back
// before the shared deadline into a single result.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-mentions-api/internal/core"
	"github.com/target/mmk-mentions-api/internal/domain/model"
	apperrors "github.com/target/mmk-mentions-api/internal/errors"
)

// DefaultTimeout applies when a Request carries no timeout.
const DefaultTimeout = 5 * time.Minute

// Options groups dependencies for Aggregator.
type Options struct {
	Executor core.BranchExecutor // Required: runs each branch
	Logger   *slog.Logger        // Optional: structured logger
}

// Aggregator runs the branches of one analysis in parallel under a hard deadline.
type Aggregator struct {
	exec   core.BranchExecutor
	logger *slog.Logger
}

// New constructs an Aggregator.
func New(opts Options) (*Aggregator, error) {
	if opts.Executor == nil {
		return nil, errors.New("BranchExecutor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{exec: opts.Executor, logger: logger.With("component", "aggregator")}, nil
}

// Request describes one fan-out.
type Request struct {
	Owner    model.OwnerKey
	Query    string
	Branches []string
	// Timeout is shared by all branches; DefaultTimeout when zero.
	Timeout time.Duration
}

// Outcome reports how a single branch finished.
type Outcome struct {
	Branch   string
	Status   model.BranchOutcome
	Duration time.Duration
	Items    int
	Err      error
}

// Result is the merged output of a fan-out.
type Result struct {
	Merged *model.MergedResult
	// Payload is Merged encoded as JSON, ready to be stored.
	Payload  json.RawMessage
	Outcomes []Outcome
	// Interrupted is set when the caller's context ended before all branches reported.
	Interrupted bool
}

type branchResult struct {
	outcome Outcome
	payload json.RawMessage
}

// Run executes every branch of req and merges the results. Branches still outstanding
// when the deadline passes are recorded as timed out and contribute an empty object;
// anything they return later is discarded. Run only fails when there is nothing to run
// or the merged result cannot be encoded.
func (a *Aggregator) Run(ctx context.Context, req Request) (*Result, error) {
	if a == nil || a.exec == nil {
		return nil, apperrors.Orchestration("aggregator has no branch executor")
	}
	branches := uniqueBranches(req.Branches)
	if len(branches) == 0 {
		return nil, apperrors.Orchestration("no branches configured")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so stragglers never block after the collector has returned.
	results := make(chan branchResult, len(branches))
	var group errgroup.Group
	group.SetLimit(len(branches))
	for _, branch := range branches {
		group.Go(func() error {
			results <- a.runBranch(runCtx, branch, req.Query)
			return nil
		})
	}

	collected := a.collect(runCtx, results, len(branches))

	outcomes := make([]Outcome, 0, len(branches))
	merged := &model.MergedResult{
		UserID:    req.Owner.UserID,
		SessionID: req.Owner.SessionID,
		Branches:  make(map[string]json.RawMessage, len(branches)),
	}
	stragglers := 0
	for _, branch := range branches {
		r, ok := collected[branch]
		if !ok {
			stragglers++
			r = branchResult{outcome: Outcome{
				Branch:   branch,
				Status:   model.BranchTimedOut,
				Duration: time.Since(start),
				Err:      apperrors.BranchFailure(branch, context.DeadlineExceeded),
			}}
		}
		outcomes = append(outcomes, r.outcome)
		merged.Branches[branch] = model.EmptyBranch
		switch r.outcome.Status {
		case model.BranchSucceeded:
			merged.Branches[branch] = r.payload
			merged.Summary.Succeeded++
			merged.Summary.TotalItems += r.outcome.Items
		case model.BranchTimedOut:
			merged.Summary.TimedOut++
		default:
			merged.Summary.Failed++
		}
	}

	if stragglers > 0 {
		go func() {
			_ = group.Wait()
			a.logger.Debug("late branch results discarded", "owner", req.Owner.String(), "count", stragglers)
		}()
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeOrchestration, "encode merged result")
	}

	a.logger.InfoContext(ctx, "fan-in complete",
		"owner", req.Owner.String(),
		"branches", len(branches),
		"succeeded", merged.Summary.Succeeded,
		"failed", merged.Summary.Failed,
		"timed_out", merged.Summary.TimedOut,
		"total_items", merged.Summary.TotalItems,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Merged:      merged,
		Payload:     payload,
		Outcomes:    outcomes,
		Interrupted: ctx.Err() != nil,
	}, nil
}

// collect gathers results until every branch reported or the deadline passed. Results
// already buffered at the deadline were produced in time and are kept.
func (a *Aggregator) collect(ctx context.Context, results <-chan branchResult, n int) map[string]branchResult {
	collected := make(map[string]branchResult, n)
	for len(collected) < n {
		select {
		case r := <-results:
			collected[r.outcome.Branch] = r
		case <-ctx.Done():
			for len(collected) < n {
				select {
				case r := <-results:
					collected[r.outcome.Branch] = r
				default:
					return collected
				}
			}
		}
	}
	return collected
}

func (a *Aggregator) runBranch(ctx context.Context, branch, query string) (res branchResult) {
	start := time.Now()
	res.outcome.Branch = branch

	defer func() {
		if r := recover(); r != nil {
			res.payload = nil
			res.outcome.Status = model.BranchPanicked
			res.outcome.Items = 0
			res.outcome.Err = apperrors.BranchFailure(branch, fmt.Errorf("branch panicked: %v", r))
			a.logger.Error("branch panicked", "branch", branch, "panic", r)
		}
		res.outcome.Duration = time.Since(start)
	}()

	out, err := a.exec.Execute(ctx, branch, query)
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded)):
		res.outcome.Status = model.BranchTimedOut
		res.outcome.Err = apperrors.BranchFailure(branch, err)
		a.logger.Warn("branch timed out", "branch", branch, "error", err)
		return res
	case err != nil:
		res.outcome.Status = model.BranchFailed
		res.outcome.Err = apperrors.BranchFailure(branch, err)
		a.logger.Warn("branch failed", "branch", branch, "error", err)
		return res
	case ctx.Err() != nil:
		// Finished, but only after the deadline.
		res.outcome.Status = model.BranchTimedOut
		res.outcome.Err = apperrors.BranchFailure(branch, ctx.Err())
		return res
	}

	res.payload = Parse(branch, out, a.logger)
	res.outcome.Status = model.BranchSucceeded
	res.outcome.Items = countItems(res.payload)
	return res
}

func countItems(payload json.RawMessage) int {
	var probe struct {
		ItemCount *int              `json:"item_count"`
		Items     []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0
	}
	if probe.ItemCount != nil && *probe.ItemCount >= 0 {
		return *probe.ItemCount
	}
	return len(probe.Items)
}

func uniqueBranches(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, b := range in {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
