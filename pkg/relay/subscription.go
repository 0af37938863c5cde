package relay

import (
	"sync"

	"nostrbox/pkg/event"
)

// Subscription is a live REQ. Events arrive on Events until the
// subscription ends, at which point the channel is closed and Err tells why.
type Subscription struct {
	ID      string
	Filters []Filter

	client *Client
	sess   *session

	events    chan *event.Event
	delivered int
	stored    int
	maxQueued int

	// queue holds events the loop has accepted but the consumer has not
	// taken yet. The pump goroutine moves them onto events.
	mu    sync.Mutex
	queue []*event.Event
	ended bool
	wake  chan struct{}

	eose      chan struct{}
	eoseOnce  sync.Once
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

func newSubscription(c *Client, s *session, id string, filters []Filter, buffer, maxQueued int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	return &Subscription{
		ID:        id,
		Filters:   filters,
		client:    c,
		sess:      s,
		events:    make(chan *event.Event, buffer),
		maxQueued: maxQueued,
		wake:      make(chan struct{}, 1),
		eose:      make(chan struct{}),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *Subscription) Events() <-chan *event.Event { return s.events }

// EOSE is closed once the relay has sent all stored events
func (s *Subscription) EOSE() <-chan struct{} { return s.eose }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err is nil when the subscription was closed locally. It is only
// meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close sends CLOSE and ends the subscription. Undelivered events are
// dropped. It is safe to call more than once and after the session is gone,
// and does not wait on the consumer.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		select {
		case s.sess.cmds <- removeSubscription{sub: s}:
		case <-s.sess.done:
			return
		}
		if err := s.client.write(s.sess, CloseMessage{SubscriptionID: s.ID}); err != nil {
			s.client.log.Debug("failed to send CLOSE", "sub", s.ID, "err", err)
		}
	})
}

// deliver queues ev for the consumer and never blocks. It reports false
// when the queue is full and ev was dropped. Called from the session loop only.
func (s *Subscription) deliver(ev *event.Event) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return true
	}
	if s.maxQueued > 0 && len(s.queue) >= s.maxQueued {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.delivered++
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// pump feeds queued events to Events. After the subscription ends it
// drains what is left and closes Events. A local Close stops it at once.
func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.closing:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-s.closing:
			return
		}
	}
}

func (s *Subscription) markEOSE() {
	s.eoseOnce.Do(func() {
		s.stored = s.delivered
		close(s.eose)
	})
}

// live reports whether the n-th event read from Events arrived after EOSE
func (s *Subscription) live(n int) bool {
	select {
	case <-s.eose:
		return n > s.stored
	default:
		return false
	}
}

// finish ends the subscription. Called from the session loop only, once.
func (s *Subscription) finish(err error) {
	s.err = err
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	close(s.done)
}
