package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostrbox/pkg/config"
	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
	"nostrbox/pkg/nip19"
	"nostrbox/pkg/relay"
	"nostrbox/pkg/relay/relaytest"
	"nostrbox/pkg/signer"
	"nostrbox/pkg/tui"
)

const waitTimeout = 5 * time.Second

func TestPostEvent(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	ev := signedNote(t, "hello relay", 1700000000)

	r := invoke(t, eventJSON(t, ev)+"\n", "post-event", "-relay", srv.URL(), "-")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, fmt.Sprintf("%s %s ok\n", srv.URL(), ev.ID), r.stdout)
	require.Len(t, srv.Events(), 1)
	assert.Equal(t, ev.ID, srv.Events()[0].ID)
}

func TestPostEventSeveralRelays(t *testing.T) {
	setup(t)
	a, b := relaytest.New(t), relaytest.New(t)
	b.SetPolicy(func(*event.Event) string { return "blocked: no thanks" })
	evs := []*event.Event{signedNote(t, "one", 1700000000), signedNote(t, "two", 1700000001)}

	stdin := eventJSON(t, evs[0]) + "\n" + eventJSON(t, evs[1]) + "\n"
	r := invoke(t, stdin, "publish", "-relay", a.URL(), "-relay", b.URL(), "-rate", "50")
	assert.Equal(t, dispatch.ExitProtocol, r.code)
	assert.Equal(t, strings.Join([]string{
		a.URL() + " " + evs[0].ID.String() + " ok",
		a.URL() + " " + evs[1].ID.String() + " ok",
		b.URL() + " " + evs[0].ID.String() + " rejected: blocked: no thanks",
		b.URL() + " " + evs[1].ID.String() + " rejected: blocked: no thanks",
	}, "\n")+"\n", r.stdout)
	assert.Contains(t, r.stderr, "2 of 4 publishes failed")
	assert.Len(t, a.Events(), 2)
	assert.Empty(t, b.Events())
}

func TestPostEventOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		mode    relaytest.AckMode
		outcome string
		code    int
	}{
		{"silent relay times out", relaytest.AckSilent, "timeout", dispatch.ExitTimeout},
		{"dropped connection is unconfirmed", relaytest.AckDrop, "unconfirmed", dispatch.ExitConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t)
			srv := relaytest.New(t)
			srv.SetAckMode(tt.mode)
			ev := signedNote(t, "maybe", 1700000000)

			r := invoke(t, "", "post-event", "-relay", srv.URL(), "-timeout", "300ms", eventJSON(t, ev))
			assert.Equal(t, tt.code, r.code, r.stderr)
			assert.Equal(t, fmt.Sprintf("%s %s %s\n", srv.URL(), ev.ID, tt.outcome), r.stdout)
		})
	}
}

func TestPostEventRefusesInvalid(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	ev := signedNote(t, "original", 1700000000)
	ev.Content = "edited"

	r := invoke(t, "", "post-event", "-relay", srv.URL(), eventJSON(t, ev))
	assert.Equal(t, dispatch.ExitCrypto, r.code)
	assert.Empty(t, srv.Received())
}

func TestPostEventUnreachable(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	url := srv.URL()
	srv.Close()
	ev := signedNote(t, "nobody home", 1700000000)

	r := invoke(t, "", "post-event", "-relay", url, "-timeout", "1s", eventJSON(t, ev))
	assert.Equal(t, dispatch.ExitConnection, r.code)
	assert.True(t, strings.HasPrefix(r.stdout, url+" "+ev.ID.String()+" error: "), r.stdout)
}

func TestPostEventUsesRelayHints(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	ev := signedNote(t, "hinted", 1700000000)

	nevent, err := nip19.EncodeEvent(nip19.EventPointer{ID: [32]byte(ev.ID), Relays: []string{srv.URL()}})
	require.NoError(t, err)
	r := invoke(t, "", "post-event", "-relay", nevent, eventJSON(t, ev))
	require.Equal(t, 0, r.code, r.stderr)
	assert.Len(t, srv.Events(), 1)

	bare, err := nip19.EncodeEvent(nip19.EventPointer{ID: [32]byte(ev.ID)})
	require.NoError(t, err)
	r = invoke(t, "", "post-event", "-relay", bare, eventJSON(t, ev))
	assert.Equal(t, dispatch.ExitUsage, r.code)
}

func TestEventWithDBusSigner(t *testing.T) {
	setup(t)
	kp, err := keys.ParseSecret(testSecretHex)
	require.NoError(t, err)
	dialed := false
	app := &App{
		Now: func() time.Time { return testNow },
		DialSigner: func(context.Context) (signer.Signer, error) {
			dialed = true
			return signer.NewLocal(kp), nil
		},
	}

	r := runWith(t, app, "", "event", "-signer", "dbus", "-content", "via bus")
	require.Equal(t, 0, r.code, r.stderr)
	assert.True(t, dialed)
	ev, err := event.Parse([]byte(r.stdout))
	require.NoError(t, err)
	assert.Equal(t, testPublicHex, ev.PubKey.String())
	assert.NoError(t, event.Check(ev))
}

func TestQuery(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	old, mid, recent := signedNote(t, "old", 1700000000), signedNote(t, "mid", 1700000100), signedNote(t, "new", 1700000200)
	srv.Store(mid, old, recent)

	r := invoke(t, "", "query", "-relay", srv.URL(), "-kinds", "1", "-authors", testNpub)
	require.Equal(t, 0, r.code, r.stderr)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 3)
	for i, want := range []*event.Event{recent, mid, old} {
		got, err := event.Parse([]byte(lines[i]))
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
	}

	r = invoke(t, "", "req", "-relay", srv.URL(), "-limit", "1")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, 1, strings.Count(r.stdout, "\n"))
	assert.Contains(t, r.stdout, recent.ID.String())
}

func TestQueryMergesRelays(t *testing.T) {
	setup(t)
	a, b := relaytest.New(t), relaytest.New(t)
	shared, onlyB := signedNote(t, "shared", 1700000000), signedNote(t, "only b", 1700000500)
	a.Store(shared)
	b.Store(shared, onlyB)

	r := invoke(t, "", "fetch", "-relay", a.URL(), "-relay", b.URL(), "-stats")
	require.Equal(t, 0, r.code, r.stderr)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], onlyB.ID.String())
	assert.Contains(t, lines[1], shared.ID.String())

	assert.Contains(t, r.stderr, "relay")
	assert.Contains(t, r.stderr, a.URL())
	assert.Contains(t, r.stderr, b.URL())
}

func TestQueryFilterFile(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	tagged := signedNote(t, "tagged", 1700000000)
	kp, err := keys.ParseSecret(testSecretHex)
	require.NoError(t, err)
	u, err := event.Build(event.PubKey(kp.Public()), event.KindReaction, event.Tags{{"e", tagged.ID.String()}}, "+", 1700000001)
	require.NoError(t, err)
	reaction, err := event.Sign(u, kp)
	require.NoError(t, err)
	srv.Store(tagged, reaction)

	path := filepath.Join(t.TempDir(), "filters.yaml")
	yaml := fmt.Sprintf("- kinds: [7]\n  \"#e\": [%q]\n", tagged.ID.String())
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	r := invoke(t, "", "query", "-relay", srv.URL(), "-filter-file", path)
	require.Equal(t, 0, r.code, r.stderr)
	got, err := event.Parse([]byte(r.stdout))
	require.NoError(t, err, "want exactly one event")
	assert.Equal(t, reaction.ID, got.ID)

	r = invoke(t, `{"ids": ["`+tagged.ID.String()+`"]}`, "query", "-relay", srv.URL(), "-filter-file", "-")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, tagged.ID.String())
}

func TestQueryWaitsForLiveEvents(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	stored := signedNote(t, "stored", 1700000000)
	srv.Store(stored)
	live := signedNote(t, "live", 1700000300)

	done := make(chan result, 1)
	go func() {
		done <- invoke(t, "", "query", "-relay", srv.URL(), "-after-eose", "1", "-timeout", "10s")
	}()

	// publish once the query's subscription is in place
	require.Eventually(t, func() bool { return len(srv.Subscriptions()) > 0 }, waitTimeout, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := relay.Connect(ctx, srv.URL())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Publish(ctx, live))

	r := <-done
	require.Equal(t, 0, r.code, r.stderr)
	lines := strings.Split(strings.TrimSpace(r.stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], live.ID.String())
	assert.Contains(t, lines[1], stored.ID.String())
}

func TestQueryPretty(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)
	srv.Store(signedNote(t, "look at https://example.com/cat.png", 1700000000))

	r := invoke(t, "", "query", "-relay", srv.URL(), "-pretty")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "cat.png")
	assert.Contains(t, r.stdout, "Image")
}

func TestQueryFlagErrors(t *testing.T) {
	setup(t)
	for _, args := range [][]string{
		{"query", "-stream", "-after-eose", "2"},
		{"query", "-kinds", "x"},
		{"query", "-tag", "long=x"},
		{"query", "-ids", "abc"},
		{"query", "-limit", "-1"},
	} {
		r := invoke(t, "", args...)
		assert.Equal(t, dispatch.ExitUsage, r.code, args)
	}
}

func TestCount(t *testing.T) {
	setup(t)
	a, b := relaytest.New(t), relaytest.New(t)
	a.Store(signedNote(t, "1", 1700000000), signedNote(t, "2", 1700000001))
	b.Store(signedNote(t, "3", 1700000002))

	r := invoke(t, "", "count", "-relay", a.URL(), "-kinds", "1")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "2\n", r.stdout)

	r = invoke(t, "", "count", "-relay", a.URL(), "-relay", b.URL())
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, a.URL()+" 2\n"+b.URL()+" 1\n", r.stdout)
}

func TestRelayInfo(t *testing.T) {
	setup(t)
	srv := relaytest.New(t)

	r := invoke(t, "", "relay-info", srv.URL())
	require.Equal(t, 0, r.code, r.stderr)
	var info relay.Info
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &info))
	assert.Equal(t, "relaytest", info.Name)
	assert.True(t, info.Supports(45))

	r = invoke(t, "", "nip11", "-pretty", srv.URL())
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "relaytest")

	srv.SetInfoStatus(http.StatusInternalServerError)
	r = invoke(t, "", "relay-info", srv.URL())
	assert.Equal(t, dispatch.ExitProtocol, r.code)

	r = invoke(t, "", "relay-info", "https://example.com")
	assert.Equal(t, dispatch.ExitUsage, r.code)
}

func TestGetRelays(t *testing.T) {
	path := setup(t)

	r := invoke(t, "", "get-relays")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, strings.Join(config.DefaultRelays, "\n")+"\n", r.stdout)

	r = invoke(t, "", "relays", "-add", "Relay.Example.com", "-remove", "wss://nos.lol")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "wss://relay.damus.io\nwss://relay.example.com\n", r.stdout)

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://relay.damus.io", "wss://relay.example.com"}, cfg.Relays)

	r = invoke(t, "", "get-relays", "-add", "https://nope.example.com")
	assert.Equal(t, dispatch.ExitUsage, r.code)
}

func TestGetRelaysInfo(t *testing.T) {
	path := setup(t)
	srv := relaytest.New(t)
	require.NoError(t, config.SaveTo(path, &config.Config{Relays: []string{srv.URL()}}))

	r := invoke(t, "", "get-relays", "-info")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, srv.URL())
	assert.Contains(t, r.stdout, "nostrbox/relaytest")
	assert.Contains(t, r.stdout, "1,11,45")
}

func TestQueryUsesConfiguredRelays(t *testing.T) {
	path := setup(t)
	srv := relaytest.New(t)
	ev := signedNote(t, "from config", 1700000000)
	srv.Store(ev)
	require.NoError(t, config.SaveTo(path, &config.Config{Relays: []string{srv.URL()}}))

	r := invoke(t, "", "query")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, ev.ID.String())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, dispatch.ExitOK},
		{dispatch.Usagef("bad"), dispatch.ExitUsage},
		{fmt.Errorf("wrapped: %w", relay.ErrTimeout), dispatch.ExitTimeout},
		{context.DeadlineExceeded, dispatch.ExitTimeout},
		{relay.ErrPublishUnconfirmed, dispatch.ExitConnection},
		{relay.ErrNotConnected, dispatch.ExitConnection},
		{&relay.RejectedError{ID: "x", Reason: "spam"}, dispatch.ExitProtocol},
		{&relay.ClosedError{ID: "x", Reason: "gone"}, dispatch.ExitProtocol},
		{keys.ErrDecryption, dispatch.ExitCrypto},
		{event.ErrBadSignature, dispatch.ExitCrypto},
		{signer.ErrRefused, dispatch.ExitCrypto},
		{tui.ErrMismatch, dispatch.ExitCrypto},
		{fmt.Errorf("line 2: %w", event.ErrMalformed), dispatch.ExitEncoding},
		{nip19.ErrUnknownPrefix, dispatch.ExitEncoding},
		{&json.SyntaxError{}, dispatch.ExitEncoding},
		{errors.New("something else"), dispatch.ExitFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestParseFilters(t *testing.T) {
	id := strings.Repeat("ab", 32)

	filters, err := ParseFilters([]byte(fmt.Sprintf(`{"ids": [%q], "kinds": [1, 7], "limit": 5}`, id)))
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, []string{id}, filters[0].IDs)
	assert.Equal(t, []event.Kind{1, 7}, filters[0].Kinds)
	assert.Equal(t, 5, filters[0].Limit)

	filters, err = ParseFilters([]byte("- kinds: [0]\n  authors: [\"" + testPublicHex + "\"]\n- \"#t\": [nostr]\n  since: 1700000000\n"))
	require.NoError(t, err)
	require.Len(t, filters, 2)
	assert.Equal(t, []string{testPublicHex}, filters[0].Authors)
	assert.Equal(t, []string{"nostr"}, filters[1].Tags["t"])
	require.NotNil(t, filters[1].Since)
	assert.Equal(t, event.Timestamp(1700000000), *filters[1].Since)

	_, err = ParseFilters([]byte(""))
	assert.Equal(t, dispatch.ExitUsage, Classify(err))

	_, err = ParseFilters([]byte("[]"))
	assert.Equal(t, dispatch.ExitUsage, Classify(err))

	_, err = ParseFilters([]byte("just a string"))
	assert.ErrorIs(t, err, event.ErrMalformed)

	_, err = ParseFilters([]byte(`{"kinds": "one"}`))
	assert.ErrorIs(t, err, event.ErrMalformed)
}
