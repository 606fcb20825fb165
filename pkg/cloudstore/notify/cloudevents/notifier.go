// Package cloudevents delivers share notifications as CloudEvents over HTTP.
package cloudevents

import (
	"context"
	"errors"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

const (
	// TypePrefix is prepended to the notification kind to form the event type.
	TypePrefix = "io.simplecloud."

	// DefaultSource identifies this service in emitted events.
	DefaultSource = "/simple-cloud/sharing"
)

// Notifier posts each notification to a single HTTP target.
type Notifier struct {
	client cloudevents.Client
	source string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSource overrides the event source attribute.
func WithSource(source string) Option {
	return func(n *Notifier) {
		if source != "" {
			n.source = source
		}
	}
}

// New creates a Notifier that sends binary-mode CloudEvents to target.
func New(target string, opts ...Option) (*Notifier, error) {
	if target == "" {
		return nil, errors.New("notification target is required")
	}
	p, err := cloudevents.NewHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to create http protocol: %w", err)
	}
	c, err := cloudevents.NewClient(p, cloudevents.WithTimeNow())
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}

	n := &Notifier{client: c, source: DefaultSource}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

var _ cloudstore.Notifier = (*Notifier)(nil)

// Notify sends n and reports anything other than an acknowledgement as an
// error.
func (n *Notifier) Notify(ctx context.Context, note cloudstore.Notification) error {
	event := cloudevents.NewEvent()
	event.SetID(note.ShareID.String())
	event.SetType(TypePrefix + note.Kind)
	event.SetSource(n.source)
	event.SetSubject(note.RecipientID.String())
	if !note.CreatedAt.IsZero() {
		event.SetTime(note.CreatedAt)
	}
	if err := event.SetData(cloudevents.ApplicationJSON, note); err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	result := n.client.Send(ctx, event)
	if cloudevents.IsUndelivered(result) {
		return fmt.Errorf("notification undelivered: %w", result)
	}
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("notification rejected: %w", result)
	}
	return nil
}
