package relay

import (
	"context"
	"sort"
	"time"

	"nostrbox/pkg/event"
)

// FetchOptions decide when Fetch stops collecting. The zero value stops at
// EOSE. When both waits are set, whichever is reached first ends the fetch.
type FetchOptions struct {
	ExitOnEOSE bool
	// WaitForEvents keeps collecting until this many events arrive after EOSE
	WaitForEvents int
	// WaitDuration keeps collecting for this long after EOSE
	WaitDuration time.Duration
}

func (o FetchOptions) exitAtEOSE() bool {
	return o.ExitOnEOSE || (o.WaitForEvents <= 0 && o.WaitDuration <= 0)
}

// Fetch runs a subscription to completion and returns the distinct events it
// saw, newest first. Events collected before an error are returned with it.
func (c *Client) Fetch(ctx context.Context, filters []Filter, opts FetchOptions) ([]*event.Event, error) {
	sub, err := c.Subscribe(ctx, filters)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	col := newCollector()
	var (
		received  int
		afterEOSE int
		eose      = sub.EOSE()
		timeout   <-chan time.Time
	)

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return col.sorted(), sub.Err()
			}
			received++
			if !col.add(ev) || !sub.live(received) {
				continue
			}
			afterEOSE++
			if opts.WaitForEvents > 0 && afterEOSE >= opts.WaitForEvents {
				return col.sorted(), nil
			}

		case <-eose:
			eose = nil
			if opts.exitAtEOSE() {
				// stored events are already queued
				for ; received < sub.stored; received++ {
					ev, ok := <-sub.Events()
					if !ok {
						break
					}
					col.add(ev)
				}
				return col.sorted(), nil
			}
			if opts.WaitDuration > 0 {
				t := time.NewTimer(opts.WaitDuration)
				defer t.Stop()
				timeout = t.C
			}

		case <-timeout:
			return col.sorted(), nil

		case <-ctx.Done():
			return col.sorted(), contextErr(ctx.Err())
		}
	}
}

type collector struct {
	seen   map[event.ID]struct{}
	events []*event.Event
}

func newCollector() *collector {
	return &collector{seen: make(map[event.ID]struct{})}
}

func (c *collector) add(ev *event.Event) bool {
	if _, dup := c.seen[ev.ID]; dup {
		return false
	}
	c.seen[ev.ID] = struct{}{}
	c.events = append(c.events, ev)
	return true
}

func (c *collector) sorted() []*event.Event {
	sort.SliceStable(c.events, func(i, j int) bool {
		return c.events[i].CreatedAt > c.events[j].CreatedAt
	})
	return c.events
}
