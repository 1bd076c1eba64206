package live

import (
	"context"
	"encoding/json"
)

// Footprint is the (record kind, index, key) a query depends on.
type Footprint struct {
	Kind  string
	Index string
	Key   string
}

// String renders the footprint as kind:index:key, e.g. message:by_channel:42.
func (f Footprint) String() string {
	return f.Kind + ":" + f.Index + ":" + f.Key
}

// Query is a re-runnable read bound to one footprint.
type Query struct {
	// Name is the query shape, e.g. "listMessages". Used in updates and metrics.
	Name string
	// ID identifies shape plus parameters. Subscriptions with the same ID on a
	// key share one recomputation per Publish. Empty disables sharing.
	ID        string
	Footprint Footprint
	Run       func(ctx context.Context) (any, error)
}

// Update is one delivery to a subscriber.
type Update struct {
	SubscriptionID string
	Query          string
	Seq            uint64
	Data           json.RawMessage
}

// Sink receives the updates of one subscription, one call at a time.
// Returning an error ends the subscription.
type Sink interface {
	Deliver(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Deliver(ctx context.Context, u Update) error { return f(ctx, u) }

// Metrics observes notifier activity. See internal/metrics for the
// Prometheus implementation.
type Metrics interface {
	SubscriptionOpened(query string)
	SubscriptionClosed(query string)
	Recomputed(query string)
	Delivered(query string)
	Suppressed(query string)
}

type nopMetrics struct{}

func (nopMetrics) SubscriptionOpened(string) {}
func (nopMetrics) SubscriptionClosed(string) {}
func (nopMetrics) Recomputed(string)         {}
func (nopMetrics) Delivered(string)          {}
func (nopMetrics) Suppressed(string)         {}
