// Package mocks provides mock implementations for testing the docchat job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, ClaimNext, Heartbeat, MarkDone, MarkFailed, Stats, ListRecent
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/docchat/docchat-go/internal/core JobRepository

// Generate mock for ReaperRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/docchat/docchat-go/internal/core ReaperRepository

// Generate mock for EventRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=event_repository_mock.go github.com/docchat/docchat-go/internal/core EventRepository

// Generate mock for SubscriptionRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=subscription_repository_mock.go github.com/docchat/docchat-go/internal/core SubscriptionRepository

// Generate mock for DeliveryRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=delivery_repository_mock.go github.com/docchat/docchat-go/internal/core DeliveryRepository

// Generate mock for DocumentRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=document_repository_mock.go github.com/docchat/docchat-go/internal/core DocumentRepository

// Generate mock for CacheRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/docchat/docchat-go/internal/core CacheRepository

// Generate mock for DocumentPipeline interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=document_pipeline_mock.go github.com/docchat/docchat-go/internal/core DocumentPipeline
