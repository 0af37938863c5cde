package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nostrbox/pkg/event"
)

// command is a request from an API method to the session loop
type command interface{ isCommand() }

type addSubscription struct {
	sub *Subscription
	ack chan error
}

type removeSubscription struct {
	sub *Subscription
}

type addPublish struct {
	id     event.ID
	waiter *pendingPublish
}

type removePublish struct {
	id     event.ID
	waiter *pendingPublish
}

type addCount struct {
	id    string
	reply chan countOutcome
	ack   chan error
}

type removeCount struct {
	id string
}

func (addSubscription) isCommand()    {}
func (removeSubscription) isCommand() {}
func (addPublish) isCommand()         {}
func (removePublish) isCommand()      {}
func (addCount) isCommand()           {}
func (removeCount) isCommand()        {}

type pendingPublish struct {
	reply chan error
	sent  time.Time
}

type countOutcome struct {
	result CountResult
	err    error
}

// registry is the state owned by the loop goroutine. Nothing else touches it.
type registry struct {
	subs    map[string]*Subscription
	pending map[event.ID][]*pendingPublish
	counts  map[string]chan countOutcome
}

func (c *Client) loop(ctx context.Context, s *session, frames <-chan []byte, readErrs <-chan error) {
	reg := &registry{
		subs:    make(map[string]*Subscription),
		pending: make(map[event.ID][]*pendingPublish),
		counts:  make(map[string]chan countOutcome),
	}

	var reason error
	defer func() { c.shutdown(s, reg, reason) }()

	for {
		select {
		case <-ctx.Done():
			reason = ErrClientClosed
			return
		case err := <-readErrs:
			if s.closing.Load() {
				reason = ErrClientClosed
			} else {
				reason = fmt.Errorf("%w: %v", ErrConnection, err)
			}
			return
		case b := <-frames:
			c.handleFrame(reg, b)
		case cmd := <-s.cmds:
			c.handleCommand(reg, cmd)
		}
	}
}

// shutdown resolves everything still waiting on the session
func (c *Client) shutdown(s *session, reg *registry, reason error) {
	s.cancel()
	_ = s.conn.CloseNow()

	if errors.Is(reason, ErrClientClosed) {
		c.log.Info("disconnected")
	} else {
		c.log.Warn("connection lost", "err", reason)
	}

	for id, sub := range reg.subs {
		delete(reg.subs, id)
		sub.finish(reason)
	}
	c.metrics.subscriptions.Set(0)
	c.activity.subs.Store(0)

	for id, waiters := range reg.pending {
		delete(reg.pending, id)
		for _, w := range waiters {
			w.reply <- ErrPublishUnconfirmed
			c.metrics.published.WithLabelValues(outcomeUnconfirmed).Inc()
		}
	}
	c.activity.publishes.Store(0)

	for id, reply := range reg.counts {
		delete(reg.counts, id)
		reply <- countOutcome{err: reason}
	}
	c.activity.counts.Store(0)

	s.err = reason
	c.state.Store(int32(StateDisconnected))
	close(s.done)
}

func (c *Client) handleCommand(reg *registry, cmd command) {
	switch cmd := cmd.(type) {
	case addSubscription:
		if _, ok := reg.subs[cmd.sub.ID]; ok {
			cmd.ack <- fmt.Errorf("%w: %s", ErrDuplicateSubscription, cmd.sub.ID)
			return
		}
		if _, ok := reg.counts[cmd.sub.ID]; ok {
			cmd.ack <- fmt.Errorf("%w: %s", ErrDuplicateSubscription, cmd.sub.ID)
			return
		}
		reg.subs[cmd.sub.ID] = cmd.sub
		c.metrics.subscriptions.Inc()
		c.activity.subs.Add(1)
		go cmd.sub.pump()
		cmd.ack <- nil

	case removeSubscription:
		if reg.subs[cmd.sub.ID] != cmd.sub {
			return
		}
		delete(reg.subs, cmd.sub.ID)
		c.metrics.subscriptions.Dec()
		c.activity.subs.Add(-1)
		cmd.sub.finish(nil)

	case addPublish:
		reg.pending[cmd.id] = append(reg.pending[cmd.id], cmd.waiter)
		c.activity.publishes.Add(1)

	case removePublish:
		waiters := reg.pending[cmd.id]
		for i, w := range waiters {
			if w == cmd.waiter {
				waiters = append(waiters[:i], waiters[i+1:]...)
				c.activity.publishes.Add(-1)
				break
			}
		}
		if len(waiters) == 0 {
			delete(reg.pending, cmd.id)
		} else {
			reg.pending[cmd.id] = waiters
		}

	case addCount:
		_, taken := reg.subs[cmd.id]
		if _, ok := reg.counts[cmd.id]; ok || taken {
			cmd.ack <- fmt.Errorf("%w: %s", ErrDuplicateSubscription, cmd.id)
			return
		}
		reg.counts[cmd.id] = cmd.reply
		c.activity.counts.Add(1)
		cmd.ack <- nil

	case removeCount:
		if _, ok := reg.counts[cmd.id]; ok {
			delete(reg.counts, cmd.id)
			c.activity.counts.Add(-1)
		}
	}
}

func (c *Client) handleFrame(reg *registry, b []byte) {
	msg, err := ParseRelayMessage(b)
	if err != nil {
		c.log.Warn("discarding malformed message", "err", err)
		c.metrics.discarded.WithLabelValues(discardMalformed).Inc()
		return
	}
	c.metrics.messagesIn.WithLabelValues(msg.Label()).Inc()

	switch m := msg.(type) {
	case EventDelivery:
		sub, ok := reg.subs[m.SubscriptionID]
		if !ok {
			c.log.Debug("event for unknown subscription", "sub", m.SubscriptionID)
			c.metrics.discarded.WithLabelValues(discardUnknownSubscription).Inc()
			return
		}
		if reason := c.admit(m.Event, m.Size); reason != "" {
			c.log.Debug("discarding event", "id", m.Event.ID, "reason", reason)
			c.metrics.discarded.WithLabelValues(reason).Inc()
			return
		}
		if !sub.deliver(m.Event) {
			c.log.Warn("subscription queue full, dropping event", "sub", sub.ID, "id", m.Event.ID)
			c.metrics.discarded.WithLabelValues(discardSlowConsumer).Inc()
		}

	case EOSEMessage:
		sub, ok := reg.subs[m.SubscriptionID]
		if !ok {
			c.metrics.discarded.WithLabelValues(discardUnknownSubscription).Inc()
			return
		}
		sub.markEOSE()

	case ClosedMessage:
		closed := &ClosedError{ID: m.SubscriptionID, Reason: m.Reason}
		if sub, ok := reg.subs[m.SubscriptionID]; ok {
			delete(reg.subs, m.SubscriptionID)
			c.metrics.subscriptions.Dec()
			c.activity.subs.Add(-1)
			c.log.Info("relay closed subscription", "sub", m.SubscriptionID, "reason", m.Reason)
			sub.finish(closed)
			return
		}
		if reply, ok := reg.counts[m.SubscriptionID]; ok {
			delete(reg.counts, m.SubscriptionID)
			c.activity.counts.Add(-1)
			reply <- countOutcome{err: closed}
			return
		}
		c.metrics.discarded.WithLabelValues(discardUnknownSubscription).Inc()

	case OKMessage:
		waiters, ok := reg.pending[m.EventID]
		if !ok {
			c.log.Debug("OK for unknown event", "id", m.EventID)
			c.metrics.discarded.WithLabelValues(discardUnknownOK).Inc()
			return
		}
		delete(reg.pending, m.EventID)
		c.activity.publishes.Add(-int64(len(waiters)))
		for _, w := range waiters {
			c.resolvePublish(m, w)
		}

	case CountResult:
		reply, ok := reg.counts[m.SubscriptionID]
		if !ok {
			c.metrics.discarded.WithLabelValues(discardUnknownSubscription).Inc()
			return
		}
		delete(reg.counts, m.SubscriptionID)
		c.activity.counts.Add(-1)
		reply <- countOutcome{result: m}

	case NoticeMessage:
		c.log.Info("notice", "message", m.Message)
		select {
		case c.notices <- m.Message:
		default:
			c.log.Debug("notice buffer full, dropping", "message", m.Message)
		}

	case AuthMessage:
		c.log.Info("relay requested authentication", "challenge", m.Challenge)
	}
}

func (c *Client) resolvePublish(m OKMessage, w *pendingPublish) {
	c.metrics.ackLatency.Observe(time.Since(w.sent).Seconds())
	if m.Accepted {
		c.metrics.published.WithLabelValues(outcomeAccepted).Inc()
		w.reply <- nil
		return
	}
	c.metrics.published.WithLabelValues(outcomeRejected).Inc()
	w.reply <- &RejectedError{ID: m.EventID.String(), Reason: m.Reason}
}

// admit returns a discard reason for events the client will not deliver.
// size is the length of the serialized event.
func (c *Client) admit(ev *event.Event, size int) string {
	if c.limits.MaxEventTags > 0 && len(ev.Tags) > c.limits.MaxEventTags {
		return discardOversized
	}
	if c.limits.MaxEventSize > 0 && size > c.limits.MaxEventSize {
		return discardOversized
	}
	if c.verify && !event.Verify(ev) {
		return discardInvalidSignature
	}
	return ""
}
