package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"nostrbox/pkg/config"
	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/relay"
	"nostrbox/pkg/tui"
)

// publishOutcome renders the result of one publish for the report
func publishOutcome(err error) string {
	var rejected *relay.RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected: " + rejected.Reason
	case errors.Is(err, relay.ErrPublishUnconfirmed):
		return "unconfirmed"
	case errors.Is(err, relay.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error: " + err.Error()
}

func (a *App) postEvent() dispatch.Command {
	return &command{
		name:     "post-event",
		aliases:  []string{"publish"},
		synopsis: "Publish signed events to relays and report each relay's answer",
		args:     "[flags] [event-json|-]",
		flags: func(fs *flag.FlagSet) builder {
			var relays stringList
			fs.Var(&relays, "relay", "relay url, or nevent/nprofile/naddr with relay hints (repeatable)")
			wait := fs.Duration("timeout", 0, "connect and acknowledgement timeout (default from config)")
			perSecond := fs.Float64("rate", 0, "maximum events per second per relay (0 for no limit)")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 1); err != nil {
					return nil, err
				}
				if *perSecond < 0 {
					return nil, dispatch.Usagef("-rate must not be negative")
				}
				if *wait < 0 {
					return nil, dispatch.Usagef("-timeout must not be negative")
				}
				arg := ""
				if len(args) == 1 {
					arg = args[0]
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					evs, err := r.events(arg)
					if err != nil {
						return 0, err
					}
					for _, ev := range evs {
						if err := event.Check(ev); err != nil {
							return 0, fmt.Errorf("refusing to publish %s: %w", ev.ID, err)
						}
					}
					urls, err := relayURLs(relays)
					if err != nil {
						return 0, err
					}
					if len(urls) == 0 {
						return 0, dispatch.Usagef("no relays: pass -relay or add some with get-relays -add")
					}
					d, err := timeout(*wait)
					if err != nil {
						return 0, err
					}

					conns := r.connectAll(ctx, urls, r.clientOptions(d, nil))
					defer closeAll(conns)
					results := publishAll(ctx, conns, evs, rate.Limit(*perSecond))

					var (
						failed int
						first  error
					)
					for i, c := range conns {
						for j, ev := range evs {
							err := results[i][j]
							fmt.Fprintf(env.Stdout, "%s %s %s\n", c.url, ev.ID, publishOutcome(err))
							if err != nil {
								failed++
								if first == nil {
									first = err
								}
							}
						}
					}
					if failed > 0 {
						return 0, fmt.Errorf("%d of %d publishes failed: %w", failed, len(conns)*len(evs), first)
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

// publishAll sends every event to every connected relay. Relays run in
// parallel, each publishing in order behind its own limiter.
func publishAll(ctx context.Context, conns []connection, evs []*event.Event, limit rate.Limit) [][]error {
	results := make([][]error, len(conns))
	var wg sync.WaitGroup
	for i := range conns {
		results[i] = make([]error, len(evs))
		c := conns[i]
		if c.err != nil {
			for j := range evs {
				results[i][j] = c.err
			}
			continue
		}

		wg.Add(1)
		go func(out []error) {
			defer wg.Done()
			limiter := rate.NewLimiter(rate.Inf, 1)
			if limit > 0 {
				limiter = rate.NewLimiter(limit, 1)
			}
			for j, ev := range evs {
				if err := limiter.Wait(ctx); err != nil {
					out[j] = err
					continue
				}
				out[j] = c.client.Publish(ctx, ev)
			}
		}(results[i])
	}
	wg.Wait()
	return results
}

type queryFlags struct {
	relays    stringList
	filter    *filterFlags
	stream    *bool
	afterEOSE *int
	waitEOSE  *time.Duration
	timeout   *time.Duration
	stats     *bool
	pretty    *bool
}

func (a *App) query() dispatch.Command {
	return &command{
		name:     "query",
		aliases:  []string{"req", "subscribe", "fetch"},
		synopsis: "Query relays and print matching events, newest first",
		args:     "[flags]",
		flags: func(fs *flag.FlagSet) builder {
			q := &queryFlags{filter: addFilterFlags(fs)}
			fs.Var(&q.relays, "relay", "relay url, or nevent/nprofile/naddr with relay hints (repeatable)")
			q.stream = fs.Bool("stream", false, "stay subscribed and print live events as they arrive")
			q.afterEOSE = fs.Int("after-eose", 0, "after stored events, wait for `n` live events")
			q.waitEOSE = fs.Duration("wait-after-eose", 0, "after stored events, keep listening this long")
			q.timeout = fs.Duration("timeout", 0, "overall timeout (default from config)")
			q.stats = fs.Bool("stats", false, "print relay statistics to stderr when done")
			q.pretty = fs.Bool("pretty", false, "render events as cards instead of JSON")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 0); err != nil {
					return nil, err
				}
				if *q.afterEOSE < 0 || *q.waitEOSE < 0 || *q.timeout < 0 {
					return nil, dispatch.Usagef("-after-eose, -wait-after-eose and -timeout must not be negative")
				}
				if *q.stream && (*q.afterEOSE > 0 || *q.waitEOSE > 0) {
					return nil, dispatch.Usagef("-stream cannot be combined with -after-eose or -wait-after-eose")
				}
				if !q.filter.usesFile() {
					// surface flag mistakes before connecting
					if _, err := q.filter.fromFlags(); err != nil {
						return nil, err
					}
				}
				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					return a.runQuery(ctx, env, q)
				}, nil
			}
		},
	}
}

func (a *App) runQuery(ctx context.Context, env *dispatch.Env, q *queryFlags) (int, error) {
	r := a.newRun(env)
	filters, err := q.filter.filters(func() ([]byte, error) { return io.ReadAll(r.prompt.Input()) })
	if err != nil {
		return 0, err
	}
	urls, err := relayURLs(q.relays)
	if err != nil {
		return 0, err
	}
	if len(urls) == 0 {
		return 0, dispatch.Usagef("no relays: pass -relay or add some with get-relays -add")
	}
	d, err := timeout(*q.timeout)
	if err != nil {
		return 0, err
	}

	var reg *prometheus.Registry
	if *q.stats {
		reg = prometheus.NewRegistry()
		defer func() {
			if err := writeStats(env.Stderr, reg); err != nil {
				env.Logger.Warn("failed to print stats", "err", err)
			}
		}()
	}
	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}

	conns := r.connectAll(ctx, urls, r.clientOptions(d, registerer))
	defer closeAll(conns)
	live := 0
	for _, c := range conns {
		if c.err == nil {
			live++
			go logNotices(env, c.client)
		}
	}
	if live == 0 {
		return 0, conns[0].err
	}

	emit := func(ev *event.Event) error {
		if *q.pretty {
			_, err := fmt.Fprintln(env.Stdout, tui.RenderEvent(ev, a.now()))
			return err
		}
		return printJSON(env.Stdout, ev, false)
	}

	if *q.stream {
		return stream(ctx, env, conns, filters, emit)
	}

	// waiting for live events has no natural end unless a timeout was asked for
	fetchCtx := ctx
	if *q.afterEOSE == 0 || *q.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d+*q.waitEOSE)
		defer cancel()
	}
	evs, err := fetchAll(fetchCtx, env, conns, filters, relay.FetchOptions{
		WaitForEvents: *q.afterEOSE,
		WaitDuration:  *q.waitEOSE,
	})
	for _, ev := range evs {
		if perr := emit(ev); perr != nil {
			return 0, perr
		}
	}
	if err != nil {
		return 0, err
	}
	return dispatch.ExitOK, nil
}

func logNotices(env *dispatch.Env, c *relay.Client) {
	for {
		select {
		case msg := <-c.Notices():
			env.Logger.Info("notice", "relay", c.URL(), "msg", msg)
		case <-c.Done():
			return
		}
	}
}

// fetchAll runs Fetch on every connected relay and merges the results.
// It fails only when no relay answered.
func fetchAll(ctx context.Context, env *dispatch.Env, conns []connection, filters []relay.Filter, opts relay.FetchOptions) ([]*event.Event, error) {
	type result struct {
		evs []*event.Event
		err error
	}
	results := make([]result, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		if c.err != nil {
			results[i].err = c.err
			continue
		}
		wg.Add(1)
		go func(i int, c *relay.Client) {
			defer wg.Done()
			results[i].evs, results[i].err = c.Fetch(ctx, filters, opts)
		}(i, c.client)
	}
	wg.Wait()

	var (
		merged []*event.Event
		seen   = make(map[event.ID]bool)
		first  error
		ok     int
	)
	for i, res := range results {
		if res.err != nil {
			env.Logger.Warn("query failed", "relay", conns[i].url, "err", res.err)
			if first == nil {
				first = res.err
			}
		} else {
			ok++
		}
		for _, ev := range res.evs {
			if !seen[ev.ID] {
				seen[ev.ID] = true
				merged = append(merged, ev)
			}
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt > merged[j].CreatedAt
	})
	if ok == 0 {
		return merged, first
	}
	return merged, nil
}

// stream prints events from every relay as they arrive until the context
// ends or every subscription is gone
func stream(ctx context.Context, env *dispatch.Env, conns []connection, filters []relay.Filter, emit func(*event.Event) error) (int, error) {
	out := make(chan *event.Event)
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		lastErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
	}
	for _, c := range conns {
		if c.err != nil {
			continue
		}
		sub, err := c.client.Subscribe(ctx, filters)
		if err != nil {
			env.Logger.Warn("subscribe failed", "relay", c.url, "err", err)
			setErr(err)
			continue
		}
		wg.Add(1)
		go func(url string, sub *relay.Subscription) {
			defer wg.Done()
			defer sub.Close()
			eose := sub.EOSE()
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						if err := sub.Err(); err != nil {
							env.Logger.Warn("subscription ended", "relay", url, "err", err)
							setErr(err)
						}
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				case <-eose:
					eose = nil
					env.Logger.Debug("end of stored events", "relay", url)
				case <-ctx.Done():
					return
				}
			}
		}(c.url, sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	seen := make(map[event.ID]bool)
	for ev := range out {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		if err := emit(ev); err != nil {
			return 0, err
		}
	}
	if ctx.Err() != nil {
		// interrupted by the user
		return dispatch.ExitOK, nil
	}
	errMu.Lock()
	defer errMu.Unlock()
	return 0, lastErr
}

func (a *App) count() dispatch.Command {
	return &command{
		name:     "count",
		synopsis: "Ask relays how many events match (NIP-45)",
		args:     "[flags]",
		flags: func(fs *flag.FlagSet) builder {
			filter := addFilterFlags(fs)
			var relays stringList
			fs.Var(&relays, "relay", "relay url, or nevent/nprofile/naddr with relay hints (repeatable)")
			wait := fs.Duration("timeout", 0, "timeout per relay (default from config)")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 0); err != nil {
					return nil, err
				}
				if !filter.usesFile() {
					if _, err := filter.fromFlags(); err != nil {
						return nil, err
					}
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					filters, err := filter.filters(func() ([]byte, error) { return io.ReadAll(r.prompt.Input()) })
					if err != nil {
						return 0, err
					}
					urls, err := relayURLs(relays)
					if err != nil {
						return 0, err
					}
					if len(urls) == 0 {
						return 0, dispatch.Usagef("no relays: pass -relay or add some with get-relays -add")
					}
					d, err := timeout(*wait)
					if err != nil {
						return 0, err
					}

					conns := r.connectAll(ctx, urls, r.clientOptions(d, nil))
					defer closeAll(conns)

					type answer struct {
						res relay.CountResult
						err error
					}
					answers := make([]answer, len(conns))
					var wg sync.WaitGroup
					for i, c := range conns {
						if c.err != nil {
							answers[i].err = c.err
							continue
						}
						wg.Add(1)
						go func(i int, c *relay.Client) {
							defer wg.Done()
							answers[i].res, answers[i].err = c.Count(ctx, filters)
						}(i, c.client)
					}
					wg.Wait()

					var first error
					for i, ans := range answers {
						if ans.err != nil {
							env.Logger.Warn("count failed", "relay", conns[i].url, "err", ans.err)
							if first == nil {
								first = ans.err
							}
							if len(conns) > 1 {
								fmt.Fprintf(env.Stdout, "%s error: %v\n", conns[i].url, ans.err)
							}
							continue
						}
						n := fmt.Sprint(ans.res.Count)
						if ans.res.Approximate {
							n = "~" + n
						}
						if len(conns) == 1 {
							fmt.Fprintln(env.Stdout, n)
						} else {
							fmt.Fprintf(env.Stdout, "%s %s\n", conns[i].url, n)
						}
					}
					if first != nil {
						return 0, first
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func (a *App) relayInfo() dispatch.Command {
	return &command{
		name:     "relay-info",
		aliases:  []string{"nip11"},
		synopsis: "Fetch a relay's information document (NIP-11)",
		args:     "[flags] <relay>",
		flags: func(fs *flag.FlagSet) builder {
			pretty := fs.Bool("pretty", false, "render a summary instead of JSON")
			wait := fs.Duration("timeout", 0, "request timeout (default from config)")

			return func(args []string) (dispatch.Action, error) {
				if len(args) != 1 {
					return nil, dispatch.Usagef("want exactly one relay")
				}
				url, err := relay.NormalizeURL(args[0])
				if err != nil {
					return nil, dispatch.Usagef("bad relay %q: %v", args[0], err)
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					d, err := timeout(*wait)
					if err != nil {
						return 0, err
					}
					ctx, cancel := context.WithTimeout(ctx, d)
					defer cancel()

					info, err := relay.FetchInfo(ctx, url, a.HTTPClient)
					if err != nil {
						return 0, err
					}
					if *pretty {
						fmt.Fprintln(env.Stdout, tui.RenderInfo(url, info))
						return dispatch.ExitOK, nil
					}
					return dispatch.ExitOK, printJSON(env.Stdout, info, true)
				}, nil
			}
		},
	}
}

func (a *App) getRelays() dispatch.Command {
	return &command{
		name:     "get-relays",
		aliases:  []string{"relays"},
		synopsis: "List, add or remove the configured relays",
		args:     "[flags]",
		flags: func(fs *flag.FlagSet) builder {
			var add, remove stringList
			fs.Var(&add, "add", "add a relay (repeatable)")
			fs.Var(&remove, "remove", "remove a relay (repeatable)")
			withInfo := fs.Bool("info", false, "fetch each relay's NIP-11 document")
			wait := fs.Duration("timeout", 0, "NIP-11 request timeout (default from config)")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 0); err != nil {
					return nil, err
				}
				for _, u := range add {
					if _, err := relay.NormalizeURL(u); err != nil {
						return nil, dispatch.Usagef("bad relay %q: %v", u, err)
					}
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					cfg, err := config.Load()
					if err != nil {
						return 0, err
					}
					if len(add) > 0 || len(remove) > 0 {
						for _, u := range add {
							if _, err := cfg.AddRelay(u); err != nil {
								return 0, dispatch.Usagef("bad relay %q: %v", u, err)
							}
						}
						for _, u := range remove {
							if !cfg.RemoveRelay(u) {
								env.Logger.Warn("relay not configured", "relay", u)
							}
						}
						if err := config.Save(cfg); err != nil {
							return 0, err
						}
					}

					if !*withInfo {
						for _, u := range cfg.Relays {
							fmt.Fprintln(env.Stdout, u)
						}
						return dispatch.ExitOK, nil
					}

					d := *wait
					if d <= 0 {
						d = cfg.Timeout()
					}
					return dispatch.ExitOK, a.writeRelayInfo(ctx, env.Stdout, cfg.Relays, d)
				}, nil
			}
		},
	}
}

// writeRelayInfo fetches the NIP-11 documents of urls in parallel and prints
// a table. A relay that does not answer gets its error in place of a name.
func (a *App) writeRelayInfo(ctx context.Context, w io.Writer, urls []string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	infos := make([]*relay.Info, len(urls))
	errs := make([]error, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			infos[i], errs[i] = relay.FetchInfo(ctx, u, a.HTTPClient)
		}(i, u)
	}
	wg.Wait()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "relay\tname\tsoftware\tnips")
	for i, u := range urls {
		if errs[i] != nil {
			fmt.Fprintf(tw, "%s\terror: %v\t\t\n", u, errs[i])
			continue
		}
		info := infos[i]
		nips := make([]string, len(info.SupportedNIPs))
		for j, n := range info.SupportedNIPs {
			nips[j] = fmt.Sprint(n)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u, info.Name, info.Software, strings.Join(nips, ","))
	}
	return tw.Flush()
}
