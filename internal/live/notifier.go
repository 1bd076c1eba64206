package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rs/xid"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("live: notifier closed")

// bucket holds the subscriptions of one footprint key.
type bucket struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	// dead is set when the bucket was removed from the map; a goroutine that
	// fetched it before removal must fetch a fresh bucket.
	dead bool
}

// Notifier maps footprints to live subscriptions.
type Notifier struct {
	logger  *slog.Logger
	metrics Metrics

	mu      sync.RWMutex
	buckets map[Footprint]*bucket
	closed  bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMetrics reports notifier activity to m.
func WithMetrics(m Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// New creates an empty Notifier.
func New(logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		logger:  logger,
		metrics: nopMetrics{},
		buckets: make(map[Footprint]*bucket),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Subscribe runs q, schedules the result as the first delivery to sink, and
// keeps the subscription live until Close. An error from the initial run is
// returned and nothing is registered.
func (n *Notifier) Subscribe(ctx context.Context, q Query, sink Sink) (*Subscription, error) {
	s := newSubscription(xid.New().String(), q, sink, n)

	for {
		b, err := n.bucketFor(q.Footprint)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}

		data, err := q.Run(ctx)
		if err != nil {
			b.mu.Unlock()
			n.dropIfEmpty(q.Footprint, b)
			return nil, err
		}
		enc, err := json.Marshal(data)
		if err != nil {
			b.mu.Unlock()
			n.dropIfEmpty(q.Footprint, b)
			return nil, fmt.Errorf("live: encoding %s result: %w", q.Name, err)
		}

		b.subs[s.id] = s
		s.accept(enc)
		b.mu.Unlock()
		break
	}

	n.metrics.SubscriptionOpened(q.Name)
	n.logger.Debug("subscription opened",
		slog.String("subscription", s.id),
		slog.String("query", q.Name),
		slog.String("footprint", q.Footprint.String()),
	)

	go s.pump()

	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		// Close ran between registration and now and may have missed s.
		s.Close()
		return nil, ErrClosed
	}
	return s, nil
}

// Publish re-runs every query depending on fp and delivers changed results.
//
// Call it after the write touching fp has committed and before the next
// write commits; the write path does this while still holding its commit
// lock, so every recomputation observes exactly that commit.
func (n *Notifier) Publish(ctx context.Context, fp Footprint) {
	n.mu.RLock()
	b := n.buckets[fp]
	n.mu.RUnlock()
	if b == nil {
		return
	}

	// A cancelled request must not cost other subscribers their update.
	ctx = context.WithoutCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	// One run per distinct query on this key.
	shared := make(map[string][]byte)

	for _, s := range b.subs {
		enc, ok := shared[s.query.ID]
		if !ok || s.query.ID == "" {
			data, err := s.query.Run(ctx)
			n.metrics.Recomputed(s.query.Name)
			if err != nil {
				// Keep the subscription; the next write on this key retries.
				n.logger.Warn("live query recompute failed",
					slog.String("query", s.query.Name),
					slog.String("footprint", fp.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			enc, err = json.Marshal(data)
			if err != nil {
				n.logger.Error("live query result not encodable",
					slog.String("query", s.query.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if s.query.ID != "" {
				shared[s.query.ID] = enc
			}
		}

		if !s.accept(enc) {
			n.metrics.Suppressed(s.query.Name)
		}
	}
}

// Count returns how many subscriptions depend on fp.
func (n *Notifier) Count(fp Footprint) int {
	n.mu.RLock()
	b := n.buckets[fp]
	n.mu.RUnlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Keys returns how many footprints currently have subscribers.
func (n *Notifier) Keys() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.buckets)
}

// Close ends every subscription and rejects new ones.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	var subs []*Subscription
	for _, b := range n.buckets {
		b.mu.Lock()
		for _, s := range b.subs {
			subs = append(subs, s)
		}
		b.mu.Unlock()
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// bucketFor returns the bucket of fp, creating it if needed.
func (n *Notifier) bucketFor(fp Footprint) (*bucket, error) {
	n.mu.RLock()
	b, closed := n.buckets[fp], n.closed
	n.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if b != nil {
		return b, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if b = n.buckets[fp]; b == nil {
		b = &bucket{subs: make(map[string]*Subscription)}
		n.buckets[fp] = b
	}
	return b, nil
}

// remove unregisters s. Safe to call for an already removed subscription.
func (n *Notifier) remove(s *Subscription) bool {
	fp := s.query.Footprint

	n.mu.RLock()
	b := n.buckets[fp]
	n.mu.RUnlock()
	if b == nil {
		return false
	}

	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	b.mu.Unlock()

	n.dropIfEmpty(fp, b)
	return ok
}

// dropIfEmpty deletes b from the map when it has no subscriptions left.
// Lock order is always map then bucket.
func (n *Notifier) dropIfEmpty(fp Footprint, b *bucket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 && !b.dead && n.buckets[fp] == b {
		b.dead = true
		delete(n.buckets, fp)
	}
}

// sameResult is the change test: canonical JSON encodings compared byte for byte.
func sameResult(a, b []byte) bool {
	return a != nil && bytes.Equal(a, b)
}
