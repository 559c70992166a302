// Package bus routes typed events from producers to subscribers,
// independent of their source.
package bus

import (
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/obs"
)

// Handler consumes one event. A returned error (or panic) is logged and
// skips that handler for the current event only; delivery to remaining
// subscribers continues and the handler stays subscribed.
type Handler func(model.Event) error

// Token identifies one subscription for later removal.
type Token uint64

type subscriber struct {
	token   Token
	owner   string
	kinds   map[string]struct{}
	handler Handler
	queue   chan model.Event
	done    chan struct{}
}

func (s *subscriber) matches(kind string) bool {
	if _, ok := s.kinds[model.KindAny]; ok {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Router is a pub/sub event bus. Publish is synchronous by default: the
// handler runs on the publisher's goroutine before Publish returns.
// Subscriptions registered with SubscribeAsync run on their own goroutine
// and preserve publish order per subscriber.
type Router struct {
	mu      sync.RWMutex
	subs    []*subscriber
	next    Token
	metrics *obs.Metrics
	closed  bool
}

// NewRouter builds an empty router. metrics may be nil.
func NewRouter(metrics *obs.Metrics) *Router {
	return &Router{metrics: metrics}
}

// Subscribe registers handler for the given kinds. Use model.KindAny to
// receive every event. owner is used only for error attribution.
func (r *Router) Subscribe(owner string, kinds []string, handler Handler) Token {
	return r.add(owner, kinds, handler, 0)
}

// SubscribeAsync registers handler with a buffered delivery queue so slow
// consumers do not block publishers. Events queued beyond the buffer block
// the publisher rather than being dropped, preserving at-least-once
// delivery and per-publisher order.
func (r *Router) SubscribeAsync(owner string, kinds []string, handler Handler, buffer int) Token {
	if buffer <= 0 {
		buffer = 64
	}
	return r.add(owner, kinds, handler, buffer)
}

func (r *Router) add(owner string, kinds []string, handler Handler, buffer int) Token {
	kindSet := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	sub := &subscriber{
		token:   r.next,
		owner:   owner,
		kinds:   kindSet,
		handler: handler,
	}
	if buffer > 0 && !r.closed {
		sub.queue = make(chan model.Event, buffer)
		sub.done = make(chan struct{})
		go r.drain(sub)
	}
	r.subs = append(r.subs, sub)
	return sub.token
}

// Unsubscribe removes the subscription identified by token.
func (r *Router) Unsubscribe(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.token == token {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			if sub.queue != nil {
				close(sub.queue)
			}
			return
		}
	}
}

// Publish delivers event to every currently registered subscriber whose
// kind set matches. Safe for concurrent producers; events from a single
// producer reach any one subscriber in publish order.
func (r *Router) Publish(event model.Event) {
	r.mu.RLock()
	matched := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		if !sub.matches(event.Kind) {
			continue
		}
		if sub.queue != nil {
			// Enqueue under the read lock so Close cannot close the
			// queue between snapshot and send.
			sub.queue <- event
			continue
		}
		matched = append(matched, sub)
	}
	r.mu.RUnlock()

	r.metrics.IncPublished()
	for _, sub := range matched {
		r.deliver(sub, event)
	}
}

// Close stops async subscriber goroutines and waits for their queues to
// drain. Further publishes deliver to synchronous subscribers only.
func (r *Router) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.closed = true
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.queue != nil {
			close(sub.queue)
			<-sub.done
		}
	}
}

func (r *Router) drain(sub *subscriber) {
	defer close(sub.done)
	for event := range sub.queue {
		r.deliver(sub, event)
	}
}

func (r *Router) deliver(sub *subscriber, event model.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncHandlerError()
			logs.Errorf("subscriber %s panicked on %s event: %+v", sub.owner, event.Kind, rec)
		}
	}()
	if err := sub.handler(event); err != nil {
		r.metrics.IncHandlerError()
		logs.Errorf("subscriber %s failed on %s event, err: %+v", sub.owner, event.Kind, err)
		return
	}
	r.metrics.IncDelivered()
}
