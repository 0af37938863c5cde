package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nostrbox/pkg/config"
	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
	"nostrbox/pkg/nip19"
	"nostrbox/pkg/relay"
	"nostrbox/pkg/signer"
	"nostrbox/pkg/tui"
)

// EnvPrivateKey holds a hex, nsec or ncryptsec secret
const EnvPrivateKey = "NOSTR_PRIVATE_KEY"

const (
	signerLocal = "local"
	signerDBus  = "dbus"
)

// run carries the per-invocation helpers of an action
type run struct {
	app    *App
	env    *dispatch.Env
	prompt *tui.Prompter
}

func (a *App) newRun(env *dispatch.Env) *run {
	return &run{app: a, env: env, prompt: tui.NewPrompter(env.Stdin, env.Stderr)}
}

func checkSignerMode(mode string) error {
	switch mode {
	case "", signerLocal, signerDBus:
		return nil
	}
	return dispatch.Usagef("unknown signer %q (want %s or %s)", mode, signerLocal, signerDBus)
}

// secretText finds the secret: the argument ("-" reads a line from stdin),
// then $NOSTR_PRIVATE_KEY, then the config file.
func (r *run) secretText(arg string) (string, error) {
	switch arg {
	case "-":
		line, err := r.prompt.ReadLine()
		if errors.Is(err, io.EOF) {
			return "", dispatch.Usagef("no secret key on stdin")
		}
		return strings.TrimSpace(line), err
	case "":
	default:
		return arg, nil
	}

	if v := strings.TrimSpace(os.Getenv(EnvPrivateKey)); v != "" {
		return v, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.Nsec != "" {
		return cfg.Nsec, nil
	}
	return "", dispatch.Usagef("no secret key: pass one, set %s or run keygen -save", EnvPrivateKey)
}

// keyPair resolves a secret, asking for the passphrase of an ncryptsec
func (r *run) keyPair(arg string) (*keys.KeyPair, error) {
	text, err := r.secretText(arg)
	if err != nil {
		return nil, err
	}
	if !keys.IsEncrypted(text) {
		return keys.ParseSecret(text)
	}

	enc, err := keys.ParseEncryptedKey(text)
	if err != nil {
		return nil, err
	}
	pass, err := r.prompt.Passphrase("Passphrase")
	if err != nil {
		return nil, err
	}
	return keys.Decrypt(enc, pass)
}

// signer picks the D-Bus signer when asked for, or when the config says so
// and no secret was given; otherwise a local key pair.
func (r *run) signer(ctx context.Context, arg, mode string) (signer.Signer, error) {
	if mode == signerDBus {
		return r.app.dialSigner(ctx)
	}
	if mode == "" && arg == "" && os.Getenv(EnvPrivateKey) == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if cfg.AuthMethod == config.AuthPlebSigner {
			r.env.Logger.Debug("using pleb signer from config")
			return r.app.dialSigner(ctx)
		}
	}

	kp, err := r.keyPair(arg)
	if err != nil {
		return nil, err
	}
	return signer.NewLocal(kp), nil
}

// lines returns the non-blank lines of stdin
func (r *run) lines() ([]string, error) {
	var out []string
	for {
		line, err := r.prompt.ReadLine()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
}

// events parses the event argument, or one event per stdin line
func (r *run) events(arg string) ([]*event.Event, error) {
	if arg != "" && arg != "-" {
		ev, err := event.Parse([]byte(arg))
		if err != nil {
			return nil, err
		}
		return []*event.Event{ev}, nil
	}

	lines, err := r.lines()
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, dispatch.Usagef("no events given")
	}
	evs := make([]*event.Event, 0, len(lines))
	for i, line := range lines {
		ev, err := event.Parse([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// relayURLs expands -relay values: urls, or nevent/nprofile/naddr entities
// whose relay hints are used. Without any, the configured relays apply.
func relayURLs(values []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) error {
		u, err := relay.NormalizeURL(raw)
		if err != nil {
			return dispatch.Usagef("bad relay %q: %v", raw, err)
		}
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
		return nil
	}

	for _, v := range values {
		lower := strings.ToLower(strings.TrimPrefix(v, "nostr:"))
		if !strings.HasPrefix(lower, nip19.PrefixEvent+"1") &&
			!strings.HasPrefix(lower, nip19.PrefixProfile+"1") &&
			!strings.HasPrefix(lower, nip19.PrefixAddress+"1") {
			if err := add(v); err != nil {
				return nil, err
			}
			continue
		}

		ent, err := nip19.Decode(lower)
		if err != nil {
			return nil, err
		}
		hints := ent.Relays()
		if len(hints) == 0 {
			return nil, dispatch.Usagef("%s carries no relay hints", ent.Prefix)
		}
		for _, h := range hints {
			if err := add(h); err != nil {
				return nil, err
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	for _, u := range cfg.Relays {
		if err := add(u); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// timeout returns d, or the configured timeout when d is zero
func timeout(d time.Duration) (time.Duration, error) {
	if d > 0 {
		return d, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	return cfg.Timeout(), nil
}

func (r *run) clientOptions(d time.Duration, reg prometheus.Registerer) []relay.Option {
	opts := []relay.Option{
		relay.WithLogger(r.env.Logger),
		relay.WithConnectTimeout(d),
		relay.WithPublishTimeout(d),
	}
	if reg != nil {
		opts = append(opts, relay.WithRegisterer(reg))
	}
	if r.app.HTTPClient != nil {
		opts = append(opts, relay.WithHTTPClient(r.app.HTTPClient))
	}
	return opts
}

type connection struct {
	url    string
	client *relay.Client
	err    error
}

// connectAll dials every relay at once. Failed connections carry their error.
func (r *run) connectAll(ctx context.Context, urls []string, opts []relay.Option) []connection {
	conns := make([]connection, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		conns[i].url = u
		wg.Add(1)
		go func(c *connection) {
			defer wg.Done()
			c.client, c.err = relay.Connect(ctx, c.url, opts...)
			if c.err != nil {
				r.env.Logger.Warn("connect failed", "relay", c.url, "err", c.err)
			}
		}(&conns[i])
	}
	wg.Wait()
	return conns
}

func closeAll(conns []connection) {
	for _, c := range conns {
		if c.client != nil {
			c.client.Close()
		}
	}
}
