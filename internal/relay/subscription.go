package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

// Item is one element of a subscriber's output stream: either a matching
// event or a content-free keep-alive.
type Item struct {
	Event     domain.RefinedEvent
	KeepAlive bool
}

// Sink writes stream items to a client transport.
type Sink interface {
	SendEvent(ctx context.Context, ev domain.RefinedEvent) error
	SendKeepAlive(ctx context.Context) error
}

// Subscription is one client's registered queue plus the filter captured
// when it connected.
type Subscription struct {
	id        string
	hub       *Hub
	queue     *EvictingQueue
	filter    Matcher
	closeOnce sync.Once
}

func (s *Subscription) ID() string {
	return s.id
}

// Next waits for the next queued event that passes the filter. The
// keep-alive interval runs from the call, which is the last item handed to
// the client; discarded events do not restart it, so a keep-alive Item is
// returned once the interval passes without a match however busy the feed is.
func (s *Subscription) Next(ctx context.Context) (Item, error) {
	timer := s.hub.clock.NewTimer(s.hub.cfg.KeepAliveInterval)
	defer timer.Stop()

	for {
		for {
			ev, ok := s.queue.Pop()
			if !ok {
				break
			}
			if s.filter.Matches(ev) {
				s.hub.recorder.EventDelivered()
				return Item{Event: ev}, nil
			}
		}

		select {
		case <-s.queue.Ready():
		case <-timer.Chan():
			s.hub.recorder.KeepAliveSent()
			return Item{KeepAlive: true}, nil
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-s.hub.done:
			return Item{}, ErrHubClosed
		}
	}
}

// Close deregisters the subscription. Only the first call has an effect.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unregister(s)
	})
}

// Stream feeds items into sink until ctx ends, the hub closes, or the sink
// fails. The subscription is always closed on return. A cancelled context or
// closed hub is a normal end and returns nil.
func (s *Subscription) Stream(ctx context.Context, sink Sink) error {
	defer s.Close()

	for {
		item, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrHubClosed) {
				return nil
			}
			return err
		}

		if item.KeepAlive {
			err = sink.SendKeepAlive(ctx)
		} else {
			err = sink.SendEvent(ctx, item.Event)
		}
		if err != nil {
			return fmt.Errorf("write to subscriber %s: %w", s.id, err)
		}
	}
}
