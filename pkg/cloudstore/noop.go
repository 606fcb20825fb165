package cloudstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ObjectIngested(ctx context.Context, object *ContentObject) error {
	return nil
}

func (n *NoopEventSink) ObjectRemoved(ctx context.Context, object *ContentObject) error {
	return nil
}

func (n *NoopEventSink) ShareCreated(ctx context.Context, share *ShareRequest) error {
	return nil
}

func (n *NoopEventSink) ShareResolved(ctx context.Context, share *ShareRequest) error {
	return nil
}

// LoggingEventSink is an event sink that logs events but takes no other action.
// Useful for development and debugging
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink creates a new logging event sink
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (l *LoggingEventSink) ObjectIngested(ctx context.Context, object *ContentObject) error {
	l.logger.InfoContext(ctx, "Object ingested", "object_id", object.ID, "owner_id", object.OwnerID, "size", object.SizeBytes)
	return nil
}

func (l *LoggingEventSink) ObjectRemoved(ctx context.Context, object *ContentObject) error {
	l.logger.InfoContext(ctx, "Object removed", "object_id", object.ID, "owner_id", object.OwnerID)
	return nil
}

func (l *LoggingEventSink) ShareCreated(ctx context.Context, share *ShareRequest) error {
	l.logger.InfoContext(ctx, "Share created", "share_id", share.ID, "sender_id", share.SenderID, "recipient_id", share.RecipientID)
	return nil
}

func (l *LoggingEventSink) ShareResolved(ctx context.Context, share *ShareRequest) error {
	l.logger.InfoContext(ctx, "Share resolved", "share_id", share.ID, "status", share.Status)
	return nil
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, n Notification) error {
	return nil
}

// LoggingNotifier writes notifications to a logger instead of delivering them.
type LoggingNotifier struct {
	Logger *slog.Logger
}

func (l LoggingNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Notification", "kind", n.Kind, "recipient_id", n.RecipientID, "share_id", n.ShareID, "file_name", n.FileName)
	return nil
}

// OpenDirectory accepts every non-nil principal id. It suits deployments
// where an upstream identity provider already vouches for ids.
type OpenDirectory struct{}

func (OpenDirectory) Exists(ctx context.Context, principalID uuid.UUID) (bool, error) {
	return principalID != uuid.Nil, nil
}

// Search finds nothing; an open directory has no names to match.
func (OpenDirectory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*Principal, error) {
	return []*Principal{}, nil
}

// StaticDirectory is an in-memory principal registry.
type StaticDirectory struct {
	mu  sync.RWMutex
	ids map[uuid.UUID]struct{}
}

// NewStaticDirectory creates a directory that knows the given principals.
func NewStaticDirectory(ids ...uuid.UUID) *StaticDirectory {
	d := &StaticDirectory{ids: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
	return d
}

// Add registers principals.
func (d *StaticDirectory) Add(ids ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
}

func (d *StaticDirectory) Exists(ctx context.Context, principalID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[principalID]
	return ok, nil
}

// Search finds nothing; only ids are registered.
func (d *StaticDirectory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*Principal, error) {
	return []*Principal{}, nil
}
