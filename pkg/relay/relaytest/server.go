// Package relaytest runs an in-process Nostr relay for tests.
package relaytest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"nostrbox/pkg/event"
	"nostrbox/pkg/relay"
)

const (
	maxMessageSize = 1 << 20
	writeTimeout   = 5 * time.Second
)

// AckMode controls how the relay answers EVENT messages
type AckMode int

const (
	// AckNormal stores the event and answers OK
	AckNormal AckMode = iota
	// AckSilent stores the event and never answers
	AckSilent
	// AckDrop closes the connection without answering
	AckDrop
)

// Server is a minimal relay. Stored events are served to REQ and COUNT,
// published events are broadcast to matching live subscriptions.
type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	info       relay.Info
	infoStatus int
	events     []*event.Event
	conns      map[*conn]struct{}
	received   []relay.ClientMessage
	ackMode    AckMode
	policy     func(*event.Event) string
}

type conn struct {
	ws   *websocket.Conn
	subs map[string][]relay.Filter
}

// New starts a relay and stops it when the test ends
func New(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		info: relay.Info{
			Name:          "relaytest",
			Software:      "nostrbox/relaytest",
			SupportedNIPs: []int{1, 11, 45},
		},
		infoStatus: http.StatusOK,
		conns:      make(map[*conn]struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.serveInfo).Headers("Accept", "application/nostr+json")
	r.HandleFunc("/", s.serveWebsocket)
	s.srv = httptest.NewServer(r)
	tb.Cleanup(s.Close)
	return s
}

// URL is the websocket address of the relay
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the listener
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *Server) SetInfo(info relay.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// SetInfoStatus makes NIP-11 requests fail with code
func (s *Server) SetInfoStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoStatus = code
}

func (s *Server) SetAckMode(m AckMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackMode = m
}

// SetPolicy installs a filter on published events. A non-empty return value
// rejects the event with that reason.
func (s *Server) SetPolicy(p func(*event.Event) string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Store adds events as if they had been published earlier
func (s *Server) Store(evs ...*event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
}

// Events returns everything the relay holds
func (s *Server) Events() []*event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Event(nil), s.events...)
}

// Received returns the client messages seen so far, in arrival order
func (s *Server) Received() []relay.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]relay.ClientMessage(nil), s.received...)
}

// Subscriptions lists the live subscription ids across connections
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for c := range s.conns {
		for id := range c.subs {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Connections reports how many clients are attached
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Notice sends a NOTICE to every client
func (s *Server) Notice(text string) {
	s.Broadcast("NOTICE", text)
}

// CloseSubscription ends id on the relay side with a CLOSED message
func (s *Server) CloseSubscription(id, reason string) {
	s.mu.Lock()
	var targets []*conn
	for c := range s.conns {
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.send(frame("CLOSED", id, reason))
	}
}

// Broadcast sends a frame built from parts to every client
func (s *Server) Broadcast(parts ...any) {
	s.SendRaw(frame(parts...))
}

// SendRaw writes b verbatim to every client
func (s *Server) SendRaw(b []byte) {
	for _, c := range s.snapshot() {
		c.send(b)
	}
}

// DropConnections closes every connection without a close handshake
func (s *Server) DropConnections() {
	for _, c := range s.snapshot() {
		_ = c.ws.CloseNow()
	}
}

func (s *Server) snapshot() []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) serveInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	info, status := s.info, s.infoStatus
	s.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/nostr+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{ws: ws, subs: make(map[string][]relay.Filter)}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.CloseNow()
	}()

	for {
		_, b, err := ws.Read(r.Context())
		if err != nil {
			return
		}
		msg, err := relay.ParseClientMessage(b)
		if err != nil {
			c.send(frame("NOTICE", "invalid: "+err.Error()))
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		if !s.handle(c, msg) {
			return
		}
	}
}

// handle processes one client message and reports whether the connection
// should stay open
func (s *Server) handle(c *conn, msg relay.ClientMessage) bool {
	switch m := msg.(type) {
	case relay.ReqMessage:
		s.mu.Lock()
		c.subs[m.SubscriptionID] = m.Filters
		stored := s.query(m.Filters)
		s.mu.Unlock()

		for _, ev := range stored {
			c.send(eventFrame(m.SubscriptionID, ev))
		}
		c.send(frame("EOSE", m.SubscriptionID))

	case relay.CloseMessage:
		s.mu.Lock()
		delete(c.subs, m.SubscriptionID)
		s.mu.Unlock()

	case relay.CountMessage:
		s.mu.Lock()
		n := len(s.query(m.Filters))
		s.mu.Unlock()
		c.send(frame("COUNT", m.SubscriptionID, map[string]any{"count": n}))

	case relay.EventMessage:
		return s.publish(c, m.Event)
	}
	return true
}

func (s *Server) publish(c *conn, ev *event.Event) bool {
	s.mu.Lock()
	mode, policy := s.ackMode, s.policy
	s.mu.Unlock()

	if mode == AckDrop {
		return false
	}
	if err := event.Check(ev); err != nil {
		if mode == AckNormal {
			c.send(frame("OK", ev.ID.String(), false, "invalid: "+err.Error()))
		}
		return true
	}
	if policy != nil {
		if reason := policy(ev); reason != "" {
			if mode == AckNormal {
				c.send(frame("OK", ev.ID.String(), false, reason))
			}
			return true
		}
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	type target struct {
		c  *conn
		id string
	}
	var live []target
	for other := range s.conns {
		for id, filters := range other.subs {
			if relay.MatchesAny(filters, ev) {
				live = append(live, target{other, id})
			}
		}
	}
	s.mu.Unlock()

	if mode == AckNormal {
		c.send(frame("OK", ev.ID.String(), true, ""))
	}
	for _, t := range live {
		t.c.send(eventFrame(t.id, ev))
	}
	return true
}

// query returns stored events matching any filter, newest first, honoring
// each filter's limit. Callers hold s.mu.
func (s *Server) query(filters []relay.Filter) []*event.Event {
	sorted := append([]*event.Event(nil), s.events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt > sorted[j].CreatedAt
	})

	seen := make(map[event.ID]bool)
	var out []*event.Event
	for _, f := range filters {
		n := 0
		for _, ev := range sorted {
			if f.Limit > 0 && n >= f.Limit {
				break
			}
			if !f.Matches(ev) {
				continue
			}
			n++
			if !seen[ev.ID] {
				seen[ev.ID] = true
				out = append(out, ev)
			}
		}
	}
	return out
}

func (c *conn) send(b []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = c.ws.Write(ctx, websocket.MessageText, b)
}

func eventFrame(subID string, ev *event.Event) []byte {
	raw, err := ev.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return frame("EVENT", subID, json.RawMessage(raw))
}

func frame(parts ...any) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		panic(err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
