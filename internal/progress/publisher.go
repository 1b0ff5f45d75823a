package progress

import (
	"sync"
	"time"
)

const (
	// Per-subscriber buffer; a subscriber that falls this far behind
	// is disconnected rather than allowed to stall the feed.
	subscriberBuffer = 64

	// How long a finished feed keeps accepting late subscribers
	// before it is torn down.
	defaultGracePeriod = 30 * time.Second
)

// Publisher fans progress events out to per-job subscribers. Sends
// never block the publishing side.
type Publisher struct {
	mu    sync.Mutex
	feeds map[string]*feed
	grace time.Duration
}

type feed struct {
	subs     map[*Subscription]struct{}
	terminal *Event
}

// Subscription is one listener on a job's feed. The Events channel is
// closed when the feed ends or the subscriber is dropped.
type Subscription struct {
	jobID  string
	ch     chan *Event
	pub    *Publisher
	closed bool // guarded by pub.mu
}

// Events returns the subscriber's event channel
func (s *Subscription) Events() <-chan *Event {
	return s.ch
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.pub.unsubscribe(s)
}

// NewPublisher creates a publisher with the default grace period.
func NewPublisher() *Publisher {
	return NewPublisherWithGrace(defaultGracePeriod)
}

// NewPublisherWithGrace creates a publisher whose finished feeds stay
// available to late subscribers for the given duration.
func NewPublisherWithGrace(grace time.Duration) *Publisher {
	return &Publisher{
		feeds: make(map[string]*feed),
		grace: grace,
	}
}

// Subscribe attaches a listener to a job's feed. Subscribing to a
// feed that already ended delivers the final event and closes the
// channel immediately.
func (p *Publisher) Subscribe(jobID string) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &Subscription{
		jobID: jobID,
		ch:    make(chan *Event, subscriberBuffer),
		pub:   p,
	}

	f, ok := p.feeds[jobID]
	if ok && f.terminal != nil {
		sub.ch <- f.terminal
		sub.closed = true
		close(sub.ch)
		return sub
	}

	if !ok {
		f = &feed{subs: make(map[*Subscription]struct{})}
		p.feeds[jobID] = f
	}
	f.subs[sub] = struct{}{}
	return sub
}

// Publish delivers an event to every subscriber of the job's feed. A
// terminal event ends the feed: current subscribers receive it and are
// closed after the grace period, late subscribers get it immediately.
func (p *Publisher) Publish(jobID string, e *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.feeds[jobID]
	if !ok {
		if !e.IsTerminal() {
			return
		}
		// Remember the outcome for late subscribers.
		f = &feed{subs: make(map[*Subscription]struct{})}
		p.feeds[jobID] = f
	}
	if f.terminal != nil {
		return
	}

	for sub := range f.subs {
		select {
		case sub.ch <- e:
		default:
			// Subscriber is not draining; drop it.
			delete(f.subs, sub)
			sub.closed = true
			close(sub.ch)
		}
	}

	if e.IsTerminal() {
		f.terminal = e
		grace := p.grace
		time.AfterFunc(grace, func() {
			p.closeFeed(jobID)
		})
	}
}

// closeFeed closes all remaining subscribers and forgets the job.
func (p *Publisher) closeFeed(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.feeds[jobID]
	if !ok {
		return
	}
	for sub := range f.subs {
		sub.closed = true
		close(sub.ch)
	}
	delete(p.feeds, jobID)
}

func (p *Publisher) unsubscribe(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if f, ok := p.feeds[s.jobID]; ok {
		delete(f.subs, s)
	}
	close(s.ch)
}

// SubscriberCount reports the number of listeners on a job's feed.
func (p *Publisher) SubscriberCount(jobID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.feeds[jobID]; ok {
		return len(f.subs)
	}
	return 0
}

// Close tears down every feed, used during shutdown.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, f := range p.feeds {
		for sub := range f.subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(p.feeds, id)
	}
}
