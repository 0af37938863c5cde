package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
)

func (a *App) event() dispatch.Command {
	return &command{
		name:     "event",
		aliases:  []string{"sign-event", "create-event", "new-event"},
		synopsis: "Build and sign an event, printing it as JSON",
		args:     "[flags]",
		flags: func(fs *flag.FlagSet) builder {
			kind := fs.Uint("kind", uint(event.KindTextNote), "event kind")
			content := fs.String("content", "", "event content (default: read stdin)")
			var tags stringList
			fs.Var(&tags, "tag", "tag as `name=value1,value2` (repeatable)")
			createdAt := fs.Int64("created-at", 0, "unix timestamp (default: now)")
			sec := fs.String("sec", "", "secret key: hex, nsec, ncryptsec or - for stdin")
			mode := fs.String("signer", "", "signer: local or dbus (default from config)")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 0); err != nil {
					return nil, err
				}
				if *kind > 65535 {
					return nil, dispatch.Usagef("-kind must be at most 65535")
				}
				if *createdAt < 0 {
					return nil, dispatch.Usagef("-created-at must not be negative")
				}
				if err := checkSignerMode(*mode); err != nil {
					return nil, err
				}
				parsed := make(event.Tags, 0, len(tags))
				for _, t := range tags {
					tag, err := event.ParseTag(t)
					if err != nil {
						return nil, dispatch.Usagef("%v", err)
					}
					parsed = append(parsed, tag)
				}
				contentSet := false
				fs.Visit(func(f *flag.Flag) {
					if f.Name == "content" {
						contentSet = true
					}
				})

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					r := a.newRun(env)
					s, err := r.signer(ctx, *sec, *mode)
					if err != nil {
						return 0, err
					}
					defer s.Close()

					text := *content
					if !contentSet {
						b, err := io.ReadAll(r.prompt.Input())
						if err != nil {
							return 0, fmt.Errorf("failed to read content: %w", err)
						}
						text = strings.TrimSuffix(string(b), "\n")
					}

					ts := event.Timestamp(*createdAt)
					if ts == 0 {
						ts = event.Timestamp(a.now().Unix())
					}
					u, err := event.Build(event.PubKey{}, event.Kind(*kind), parsed, text, ts)
					if err != nil {
						return 0, err
					}
					ev, err := s.Sign(ctx, u)
					if err != nil {
						return 0, err
					}
					return dispatch.ExitOK, printJSON(env.Stdout, ev, false)
				}, nil
			}
		},
	}
}

func (a *App) verifyEvent() dispatch.Command {
	return &command{
		name:     "verify-event",
		aliases:  []string{"verify"},
		synopsis: "Check event ids and signatures",
		args:     "[flags] [event-json|-]",
		flags: func(fs *flag.FlagSet) builder {
			quiet := fs.Bool("q", false, "print nothing, only set the exit status")

			return func(args []string) (dispatch.Action, error) {
				if err := maxArgs(args, 1); err != nil {
					return nil, err
				}
				arg := ""
				if len(args) == 1 {
					arg = args[0]
				}

				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					evs, err := a.newRun(env).events(arg)
					if err != nil {
						return 0, err
					}

					var (
						bad   int
						first error
					)
					for _, ev := range evs {
						err := event.Check(ev)
						if err != nil {
							bad++
							if first == nil {
								first = err
							}
						}
						if *quiet {
							continue
						}
						if err != nil {
							fmt.Fprintf(env.Stdout, "invalid %s: %v\n", ev.ID, err)
						} else {
							fmt.Fprintf(env.Stdout, "ok %s\n", ev.ID)
						}
					}
					if bad > 0 {
						return 0, fmt.Errorf("%d of %d events invalid: %w", bad, len(evs), first)
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}
