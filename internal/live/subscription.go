package live

import (
	"context"
	"log/slog"
	"sync"
)

// Subscription is one live binding of a Query to a Sink.
type Subscription struct {
	id    string
	query Query
	sink  Sink
	n     *Notifier

	// last and seq are guarded by the owning bucket's mutex.
	last []byte
	seq  uint64

	mu      sync.Mutex
	pending *Update
	closed  bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newSubscription(id string, q Query, sink Sink, n *Notifier) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		id:       id,
		query:    q,
		sink:     sink,
		n:        n,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}
}

// ID returns the notifier-assigned subscription id.
func (s *Subscription) ID() string { return s.id }

// Query returns the query this subscription runs.
func (s *Subscription) Query() Query { return s.query }

// accept records enc as the latest result and schedules it, unless it equals
// the last delivered one. Caller holds the bucket lock. Reports whether a
// delivery was scheduled.
func (s *Subscription) accept(enc []byte) bool {
	if sameResult(s.last, enc) {
		return false
	}
	s.last = enc
	s.seq++
	s.offer(Update{
		SubscriptionID: s.id,
		Query:          s.query.Name,
		Seq:            s.seq,
		Data:           enc,
	})
	return true
}

// offer replaces any undelivered update with u and wakes the pump.
func (s *Subscription) offer(u Update) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = &u
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
		// already signalled; the pump will pick up the newest pending update
	}
}

// take hands the pump the newest pending update, or nil.
func (s *Subscription) take() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	u := s.pending
	s.pending = nil
	return u
}

// pump delivers updates one at a time until the subscription closes.
func (s *Subscription) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
			u := s.take()
			if u == nil {
				continue
			}
			if err := s.sink.Deliver(s.ctx, *u); err != nil {
				if s.ctx.Err() == nil {
					s.n.logger.Debug("subscriber gone, closing subscription",
						slog.String("subscription", s.id),
						slog.String("error", err.Error()),
					)
				}
				s.shutdown()
				return
			}
			s.n.metrics.Delivered(s.query.Name)
		}
	}
}

// shutdown unregisters the subscription and stops the pump without waiting.
func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()

		s.cancel()
		if s.n.remove(s) {
			s.n.metrics.SubscriptionClosed(s.query.Name)
			s.n.logger.Debug("subscription closed",
				slog.String("subscription", s.id),
				slog.String("query", s.query.Name),
			)
		}
	})
}

// Close removes the binding and waits until no delivery is in flight. After
// Close returns the sink is never called again. Closing twice is a no-op.
// Close must not be called from inside the Sink's own Deliver.
func (s *Subscription) Close() {
	s.shutdown()
	<-s.pumpDone
}

// Done is closed once the subscription has stopped delivering, whether by
// Close or because the sink failed.
func (s *Subscription) Done() <-chan struct{} { return s.pumpDone }
