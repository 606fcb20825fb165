package cloudstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-cloud/pkg/cloudstore/objectkey"
)

// Service is the main interface clients use: storage, quota and sharing
// operations over one catalog and one blob store.
type Service interface {
	// Storage operations
	AllocateArea(ctx context.Context, principal uuid.UUID) (*StorageArea, error)
	Ingest(ctx context.Context, req IngestRequest) (*ContentObject, error)
	List(ctx context.Context, principal uuid.UUID) []*ContentObject
	UsageSummary(ctx context.Context, principal uuid.UUID) (*UsageSummary, error)
	Remove(ctx context.Context, principal, objectID uuid.UUID) error
	Open(ctx context.Context, principal, objectID uuid.UUID) (*ContentObject, io.ReadCloser, error)

	// Quota queries
	Ceiling() int64
	Consumed(ctx context.Context, principal uuid.UUID) (int64, error)
	WouldExceed(ctx context.Context, principal uuid.UUID, n int64) (bool, error)

	// Sharing operations
	Share(ctx context.Context, sender, objectID uuid.UUID, recipients []uuid.UUID) (*ShareResult, error)
	ListIncoming(ctx context.Context, recipient uuid.UUID) []*IncomingShare
	ListOutgoing(ctx context.Context, sender uuid.UUID) []*ShareRequest
	SearchRecipients(ctx context.Context, caller uuid.UUID, query string) []*Principal
	Accept(ctx context.Context, recipient, shareID uuid.UUID) (*ContentObject, error)
	Reject(ctx context.Context, recipient, shareID uuid.UUID) error
}

type service struct {
	*StorageManager
	*SharingEngine
	*QuotaLedger
}

type settings struct {
	repository        Repository
	blobStore         BlobStore
	directory         Directory
	notifier          Notifier
	eventSink         EventSink
	limits            Limits
	logger            *slog.Logger
	metrics           *Metrics
	keys              objectkey.Generator
	now               func() time.Time
	notifyConcurrency int
}

// Option represents a functional option for configuring the service
type Option func(*settings)

// WithRepository sets the catalog
func WithRepository(repo Repository) Option {
	return func(s *settings) {
		s.repository = repo
	}
}

// WithBlobStore sets the byte store
func WithBlobStore(store BlobStore) Option {
	return func(s *settings) {
		s.blobStore = store
	}
}

// WithDirectory sets the principal directory used to validate recipients
func WithDirectory(dir Directory) Option {
	return func(s *settings) {
		s.directory = dir
	}
}

// WithNotifier sets the share notifier
func WithNotifier(n Notifier) Option {
	return func(s *settings) {
		s.notifier = n
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *settings) {
		s.eventSink = sink
	}
}

// WithLimits sets size, quota and recipient limits
func WithLimits(l Limits) Option {
	return func(s *settings) {
		s.limits = l
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithKeyGenerator sets the object key strategy
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(s *settings) {
		s.keys = g
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithNotifyConcurrency bounds parallel notification delivery per share call
func WithNotifyConcurrency(n int) Option {
	return func(s *settings) {
		s.notifyConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	storage, sharing, ledger, err := build(options...)
	if err != nil {
		return nil, err
	}
	return &service{
		StorageManager: storage,
		SharingEngine:  sharing,
		QuotaLedger:    ledger,
	}, nil
}

func build(options ...Option) (*StorageManager, *SharingEngine, *QuotaLedger, error) {
	s := &settings{
		limits:            DefaultLimits(),
		directory:         OpenDirectory{},
		notifier:          NoopNotifier{},
		eventSink:         NewNoopEventSink(),
		keys:              objectkey.NewGitLikeGenerator(),
		now:               func() time.Time { return time.Now().UTC() },
		notifyConcurrency: 4,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, nil, nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, nil, nil, fmt.Errorf("blob store is required")
	}
	if s.limits.MaxObjectBytes <= 0 || s.limits.QuotaCeilingBytes <= 0 {
		return nil, nil, nil, fmt.Errorf("limits must be positive: %+v", s.limits)
	}
	if s.limits.MaxRecipients <= 0 {
		s.limits.MaxRecipients = DefaultLimits().MaxRecipients
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.directory == nil {
		s.directory = OpenDirectory{}
	}
	if s.notifier == nil {
		s.notifier = NoopNotifier{}
	}
	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.keys == nil {
		s.keys = objectkey.NewGitLikeGenerator()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.notifyConcurrency <= 0 {
		s.notifyConcurrency = 1
	}

	ledger := NewQuotaLedger(s.repository, s.limits.QuotaCeilingBytes)
	storage := &StorageManager{
		repo:       s.repository,
		blobs:      s.blobStore,
		ledger:     ledger,
		limits:     s.limits,
		keys:       s.keys,
		principals: newKeyedLocks(),
		objects:    newKeyedLocks(),
		events:     s.eventSink,
		logger:     s.logger,
		metrics:    s.metrics,
		now:        s.now,
	}
	sharing := &SharingEngine{
		storage:           storage,
		repo:              s.repository,
		directory:         s.directory,
		notifier:          s.notifier,
		events:            s.eventSink,
		limits:            s.limits,
		logger:            s.logger,
		metrics:           s.metrics,
		now:               s.now,
		notifyConcurrency: s.notifyConcurrency,
	}
	return storage, sharing, ledger, nil
}
