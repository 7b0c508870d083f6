// Package mocks provides mock implementations of the core ports for tests.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	mockRepo := mocks.NewMockAnalysisRepository(ctrl)
//	mockRepo.EXPECT().GetByKey(gomock.Any(), owner).Return(rec, nil)
package mocks

// Generate mock for AnalysisRepository interface from internal/core package.
// This creates MockAnalysisRepository with methods for all AnalysisRepository interface methods:
// UpsertPending, GetByKey, SetStatus, SetCompleted, DeleteOlderThan, FailStale, ListRetryable, Stats
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=analysis_repository_mock.go github.com/target/mmk-mentions-api/internal/core AnalysisRepository

// Generate mock for BranchExecutor interface from internal/core package.
// This creates MockBranchExecutor with methods for all BranchExecutor interface methods:
// Execute
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=branch_executor_mock.go github.com/target/mmk-mentions-api/internal/core BranchExecutor

// Generate mock for DispatchRegistry interface from internal/core package.
// This creates MockDispatchRegistry with methods for all DispatchRegistry interface methods:
// TryAcquire, Release
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=dispatch_registry_mock.go github.com/target/mmk-mentions-api/internal/core DispatchRegistry

// Generate mock for CacheRepository interface from internal/core package.
// This creates MockCacheRepository with methods for all CacheRepository interface methods:
// Set, Get, Delete, Health
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cache_repository_mock.go github.com/target/mmk-mentions-api/internal/core CacheRepository
