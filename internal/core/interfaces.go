// Package core provides the ports and shared services of the mentions analysis service.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/mmk-mentions-api/internal/domain/analysis"
	"github.com/target/mmk-mentions-api/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// AnalysisRepository defines the durable store of analysis records, one row per owner key.
type AnalysisRepository interface {
	// UpsertPending creates the record or resets it to pending, clearing results and error.
	// Returns model.ErrStaleTransition when the existing row is not in params.AllowFrom.
	UpsertPending(ctx context.Context, params model.UpsertPendingParams) (*model.AnalysisRecord, error)
	// GetByKey returns model.ErrAnalysisNotFound when no record exists.
	GetByKey(ctx context.Context, owner model.OwnerKey) (*model.AnalysisRecord, error)
	// SetStatus is a compare-and-set transition from params.From to params.To.
	SetStatus(ctx context.Context, params model.SetStatusParams) error
	// SetCompleted moves a running record to completed with results.
	SetCompleted(ctx context.Context, owner model.OwnerKey, results json.RawMessage) error
	// DeleteOlderThan removes records in params.Statuses not updated within params.MaxAge.
	DeleteOlderThan(ctx context.Context, params model.DeleteOlderThanParams) (int64, error)
	// FailStale marks in-flight records with no progress within params.MaxAge as failed.
	FailStale(ctx context.Context, params model.FailStaleParams) (int64, error)
	// ListRetryable returns failed records eligible for automatic re-submission.
	ListRetryable(ctx context.Context, params model.ListRetryableParams) ([]*model.AnalysisRecord, error)
	// Stats counts records per status.
	Stats(ctx context.Context) (*model.AnalysisStats, error)
}

// BranchOutput is what a branch executor produced: a typed report or raw text.
type BranchOutput struct {
	Report *model.BranchReport
	Raw    []byte
}

// BranchExecutor runs the analysis for one branch. Implementations must be safe for
// concurrent use across branches of the same query.
type BranchExecutor interface {
	Execute(ctx context.Context, branchID, query string) (BranchOutput, error)
}

// DispatchRegistry admits at most one execution per owner key.
type DispatchRegistry interface {
	TryAcquire(ctx context.Context, owner model.OwnerKey) (analysis.Lease, bool, error)
	Release(ctx context.Context, lease analysis.Lease) error
}

// CacheRepository defines the interface for caching operations.
// This follows the hexagonal architecture pattern where the core defines interfaces
// and the data layer provides implementations.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	// If TTL is 0, the key will not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key.
	// Returns nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	// Returns true if the key was deleted, false if it didn't exist.
	Delete(ctx context.Context, key string) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}
