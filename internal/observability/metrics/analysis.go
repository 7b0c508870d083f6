// Package metrics emits the standard metric families of the analysis service.
package metrics

import (
	"time"

	obserrors "github.com/target/mmk-mentions-api/internal/observability/errors"
	"github.com/target/mmk-mentions-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// AnalysisMetric captures details about an analysis lifecycle event for metric emission.
type AnalysisMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitAnalysisLifecycle emits standardised analysis lifecycle metrics.
func EmitAnalysisLifecycle(sink statsd.Sink, in AnalysisMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("analysis.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("analysis.duration", in.Duration, CloneTags(tags))
	}
}

// BranchMetric describes how one branch of an analysis finished.
type BranchMetric struct {
	Branch   string
	Outcome  string
	Duration time.Duration
	Items    int
	Err      error
}

// EmitBranchOutcome emits per-branch outcome counters and timings.
func EmitBranchOutcome(sink statsd.Sink, in BranchMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"branch":  in.Branch,
		"outcome": in.Outcome,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("analysis.branch", 1, tags)
	if in.Duration > 0 {
		sink.Timing("analysis.branch_duration", in.Duration, CloneTags(tags))
	}
	if in.Items > 0 {
		sink.Count("analysis.branch_items", int64(in.Items), map[string]string{"branch": in.Branch})
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
