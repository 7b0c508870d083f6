// Package analysis holds the analysis lifecycle rules: the status state machine and
// the dispatch registry that keeps at most one execution per owner key.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// StatusNone stands for "no record yet" on the left side of a transition.
const StatusNone model.AnalysisStatus = ""

var transitions = map[model.AnalysisStatus][]model.AnalysisStatus{
	StatusNone:                    {model.AnalysisStatusPending},
	model.AnalysisStatusFailed:    {model.AnalysisStatusPending},
	model.AnalysisStatusPending:   {model.AnalysisStatusRunning, model.AnalysisStatusFailed},
	model.AnalysisStatusRunning:   {model.AnalysisStatusCompleted, model.AnalysisStatusFailed},
	model.AnalysisStatusCompleted: {},
}

// reclaimable lists in-flight states whose orphaned records may be reset to pending.
var reclaimable = map[model.AnalysisStatus]bool{
	model.AnalysisStatusPending: true,
	model.AnalysisStatusRunning: true,
}

// CanTransition reports whether from -> to is a regular lifecycle transition.
// Reclaim and forced re-runs are separate entry points; see CanReset.
func CanTransition(from, to model.AnalysisStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ResetReason explains why a record is being reset to pending.
type ResetReason string

const (
	// ResetSubmit is a first submission or a re-submission after failure.
	ResetSubmit ResetReason = "submit"
	// ResetForce re-runs a completed analysis on explicit request.
	ResetForce ResetReason = "force"
	// ResetReclaim takes over an in-flight record orphaned by a crash.
	ResetReclaim ResetReason = "reclaim"
)

// CanReset reports whether a record in state from may be reset to pending for reason.
func CanReset(from model.AnalysisStatus, reason ResetReason) bool {
	switch reason {
	case ResetSubmit:
		return CanTransition(from, model.AnalysisStatusPending)
	case ResetForce:
		return from == model.AnalysisStatusCompleted
	case ResetReclaim:
		return reclaimable[from]
	default:
		return false
	}
}

// TransitionError reports a transition the state machine does not allow.
type TransitionError struct {
	From model.AnalysisStatus
	To   model.AnalysisStatus
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("invalid analysis transition %s -> %s", from, e.To)
}

// ErrInvalidTransition matches every *TransitionError via errors.Is.
var ErrInvalidTransition = errors.New("invalid analysis transition")

// Is implements errors.Is matching against ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Store is the persistence surface the state machine writes through.
// Every write is a single conditional statement keyed by owner.
type Store interface {
	UpsertPending(ctx context.Context, params model.UpsertPendingParams) (*model.AnalysisRecord, error)
	SetStatus(ctx context.Context, params model.SetStatusParams) error
	SetCompleted(ctx context.Context, owner model.OwnerKey, results json.RawMessage) error
}

// StatusMachine validates lifecycle transitions and applies them as atomic store writes.
type StatusMachine struct {
	store  Store
	logger *slog.Logger
}

// NewStatusMachine constructs a StatusMachine over store.
func NewStatusMachine(store Store, logger *slog.Logger) *StatusMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusMachine{store: store, logger: logger.With("component", "status_machine")}
}

// ResetRequest describes a transition into pending.
type ResetRequest struct {
	Owner  model.OwnerKey
	Query  string
	From   model.AnalysisStatus
	Reason ResetReason
	// StaleBefore guards a reclaim: the record must not have been touched since.
	StaleBefore *time.Time
}

// Reset creates the record or moves it back to pending, clearing results and error.
func (m *StatusMachine) Reset(ctx context.Context, req ResetRequest) (*model.AnalysisRecord, error) {
	if !CanReset(req.From, req.Reason) {
		return nil, &TransitionError{From: req.From, To: model.AnalysisStatusPending}
	}
	params := model.UpsertPendingParams{Owner: req.Owner, Query: req.Query}
	switch req.Reason {
	case ResetSubmit:
		// A missing record may have been created concurrently; only failed rows are reset.
		params.AllowFrom = []model.AnalysisStatus{model.AnalysisStatusFailed}
	case ResetForce, ResetReclaim:
		params.AllowFrom = []model.AnalysisStatus{req.From}
		params.UpdatedBefore = req.StaleBefore
	}
	rec, err := m.store.UpsertPending(ctx, params)
	if err != nil {
		m.logger.WarnContext(ctx, "reset to pending failed",
			"owner", req.Owner.String(), "from", req.From, "reason", req.Reason, "error", err)
		return nil, err
	}
	return rec, nil
}

// Start moves a pending analysis to running.
func (m *StatusMachine) Start(ctx context.Context, owner model.OwnerKey) error {
	return m.set(ctx, model.SetStatusParams{
		Owner: owner,
		From:  model.AnalysisStatusPending,
		To:    model.AnalysisStatusRunning,
	})
}

// Complete commits results for a running analysis.
func (m *StatusMachine) Complete(ctx context.Context, owner model.OwnerKey, results json.RawMessage) error {
	if len(results) == 0 {
		return errors.New("completed analysis requires results")
	}
	if err := m.store.SetCompleted(ctx, owner, results); err != nil {
		m.logger.WarnContext(ctx, "status write failed",
			"owner", owner.String(), "from", model.AnalysisStatusRunning, "to", model.AnalysisStatusCompleted, "error", err)
		return err
	}
	return nil
}

// Fail records an orchestration failure. from is pending or running.
func (m *StatusMachine) Fail(ctx context.Context, owner model.OwnerKey, from model.AnalysisStatus, msg string) error {
	if msg == "" {
		msg = "analysis failed"
	}
	return m.set(ctx, model.SetStatusParams{
		Owner:        owner,
		From:         from,
		To:           model.AnalysisStatusFailed,
		ErrorMessage: &msg,
	})
}

func (m *StatusMachine) set(ctx context.Context, params model.SetStatusParams) error {
	if !CanTransition(params.From, params.To) {
		return &TransitionError{From: params.From, To: params.To}
	}
	if err := m.store.SetStatus(ctx, params); err != nil {
		m.logger.WarnContext(ctx, "status write failed",
			"owner", params.Owner.String(), "from", params.From, "to", params.To, "error", err)
		return err
	}
	return nil
}
