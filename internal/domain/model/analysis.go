// Package model defines the core data types shared by the mentions analysis service.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxOwnerPartLength bounds user and session identifiers.
const MaxOwnerPartLength = 255

// MaxQueryLength bounds the opaque query payload stored with an analysis.
const MaxQueryLength = 8192

// AnalysisStatus represents the lifecycle state of an analysis.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type AnalysisStatus string

const (
	// AnalysisStatusPending indicates the analysis is accepted and waiting for dispatch.
	AnalysisStatusPending AnalysisStatus = "pending"
	// AnalysisStatusRunning indicates branches are being executed.
	AnalysisStatusRunning AnalysisStatus = "running"
	// AnalysisStatusCompleted indicates results were committed.
	AnalysisStatusCompleted AnalysisStatus = "completed"
	// AnalysisStatusFailed indicates orchestration failed; the analysis may be re-submitted.
	AnalysisStatusFailed AnalysisStatus = "failed"
)

// Valid returns true if the status is one of the known states.
func (s AnalysisStatus) Valid() bool {
	return s == AnalysisStatusPending || s == AnalysisStatusRunning ||
		s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// InFlight reports whether an execution may currently own the analysis.
func (s AnalysisStatus) InFlight() bool {
	return s == AnalysisStatusPending || s == AnalysisStatusRunning
}

// Terminal reports whether no automatic transition leaves this state.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisStatusCompleted || s == AnalysisStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for AnalysisStatus.
func (s *AnalysisStatus) UnmarshalText(text []byte) error {
	v := AnalysisStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid AnalysisStatus: %q", string(text))
	}
	*s = v
	return nil
}

// OwnerKey scopes one logical analysis. Two requests with the same key refer to the same record.
type OwnerKey struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// NewOwnerKey trims and validates the key parts.
func NewOwnerKey(userID, sessionID string) (OwnerKey, error) {
	k := OwnerKey{UserID: strings.TrimSpace(userID), SessionID: strings.TrimSpace(sessionID)}
	if err := k.Validate(); err != nil {
		return OwnerKey{}, err
	}
	return k, nil
}

// Validate checks that both parts are present, bounded and printable.
func (k OwnerKey) Validate() error {
	if err := validateOwnerPart("user_id", k.UserID); err != nil {
		return err
	}
	return validateOwnerPart("session_id", k.SessionID)
}

// String renders the key as user_id/session_id.
func (k OwnerKey) String() string {
	return k.UserID + "/" + k.SessionID
}

// OwnerKeyError reports which part of an owner key is invalid.
type OwnerKeyError struct {
	Field  string
	Reason string
}

func (e *OwnerKeyError) Error() string {
	return e.Field + " " + e.Reason
}

func validateOwnerPart(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &OwnerKeyError{Field: field, Reason: "is required"}
	}
	if v != strings.TrimSpace(v) {
		return &OwnerKeyError{Field: field, Reason: "must not have surrounding whitespace"}
	}
	if len(v) > MaxOwnerPartLength {
		return &OwnerKeyError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", MaxOwnerPartLength)}
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return &OwnerKeyError{Field: field, Reason: "must not contain control characters"}
		}
	}
	return nil
}

// ErrQueryRequired is returned when an analysis is submitted without a query.
var ErrQueryRequired = errors.New("query is required")

// ErrQueryTooLong is returned when the query exceeds MaxQueryLength.
var ErrQueryTooLong = fmt.Errorf("query must be at most %d bytes", MaxQueryLength)

// ValidateQuery checks the opaque query payload.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return ErrQueryRequired
	}
	if len(q) > MaxQueryLength {
		return ErrQueryTooLong
	}
	return nil
}

// AnalysisRecord is the durable unit of work, one per owner key.
type AnalysisRecord struct {
	ID           string          `json:"id"                      db:"id"`
	Owner        OwnerKey        `json:"owner"`
	Query        string          `json:"query"                   db:"question"`
	Status       AnalysisStatus  `json:"status"                  db:"status"`
	Attempts     int             `json:"attempts"                db:"attempts"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Results      json.RawMessage `json:"results,omitempty"       db:"results"`
}

// View returns the externally visible projection of the record.
func (r *AnalysisRecord) View() *AnalysisView {
	if r == nil {
		return nil
	}
	v := &AnalysisView{
		UserID:    r.Owner.UserID,
		SessionID: r.Owner.SessionID,
		Query:     r.Query,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		StartedAt: r.StartedAt,
	}
	if r.Status == AnalysisStatusFailed && r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		v.ErrorMessage = &msg
	}
	if r.Status == AnalysisStatusCompleted && len(r.Results) > 0 {
		v.Results = append(json.RawMessage(nil), r.Results...)
	}
	return v
}

// AnalysisView mirrors AnalysisRecord minus internal fields.
type AnalysisView struct {
	UserID       string          `json:"user_id"`
	SessionID    string          `json:"session_id"`
	Query        string          `json:"query"`
	Status       AnalysisStatus  `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Results      json.RawMessage `json:"results,omitempty"`
}

// SubmitRequest asks the orchestrator to analyse a query for an owner key.
type SubmitRequest struct {
	Owner OwnerKey
	Query string
	// Force re-runs a completed analysis instead of returning the stored result.
	Force bool
}

// Validate validates the SubmitRequest fields.
func (r *SubmitRequest) Validate() error {
	if err := r.Owner.Validate(); err != nil {
		return err
	}
	return ValidateQuery(r.Query)
}

// SubmitResult reports what Submit did.
type SubmitResult struct {
	// Accepted is true when a new execution was started.
	Accepted bool           `json:"accepted"`
	Status   AnalysisStatus `json:"status"`
	View     *AnalysisView  `json:"analysis,omitempty"`
}

// UpsertPendingParams resets or creates the record for Owner in pending state.
// The conflict path only applies when the existing status is in AllowFrom; when
// UpdatedBefore is set the existing row must also be older than it.
type UpsertPendingParams struct {
	Owner         OwnerKey
	Query         string
	AllowFrom     []AnalysisStatus
	UpdatedBefore *time.Time
}

// SetStatusParams is a compare-and-set status transition.
type SetStatusParams struct {
	Owner        OwnerKey
	From         AnalysisStatus
	To           AnalysisStatus
	ErrorMessage *string
}

// DeleteOlderThanParams selects terminal records for retention deletion.
type DeleteOlderThanParams struct {
	Statuses  []AnalysisStatus
	MaxAge    time.Duration
	BatchSize int
}

// FailStaleParams selects in-flight records with no progress for MaxAge.
type FailStaleParams struct {
	Status       AnalysisStatus
	MaxAge       time.Duration
	BatchSize    int
	ErrorMessage string
}

// ListRetryableParams selects failed records eligible for automatic re-submission.
type ListRetryableParams struct {
	MaxAttempts int
	MinAge      time.Duration
	Limit       int
}

// AnalysisStats counts analyses per status.
type AnalysisStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total returns the number of analyses across all statuses.
func (s AnalysisStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed
}

// BrandQuery is the structured query accepted by the API and CLI.
type BrandQuery struct {
	BrandName string `json:"brand_name"`
	Category  string `json:"category,omitempty"`
	Location  string `json:"location,omitempty"`
}

// ErrBrandNameRequired is returned when a BrandQuery has no brand name.
var ErrBrandNameRequired = errors.New("brand_name is required")

// Encode validates the query and returns its JSON form.
func (q BrandQuery) Encode() (string, error) {
	q.BrandName = strings.TrimSpace(q.BrandName)
	q.Category = strings.TrimSpace(q.Category)
	q.Location = strings.TrimSpace(q.Location)
	if q.BrandName == "" {
		return "", ErrBrandNameRequired
	}
	b, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encode brand query: %w", err)
	}
	return string(b), nil
}
