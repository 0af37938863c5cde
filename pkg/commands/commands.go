// Package commands implements the nostrbox commands on top of the dispatch
// engine.
package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/logging"
	"nostrbox/pkg/signer"
)

// App holds what commands share across invocations
type App struct {
	Version string
	// Now is the clock for created_at defaults and relative times
	Now func() time.Time
	// DialSigner connects the D-Bus signer
	DialSigner func(ctx context.Context) (signer.Signer, error)
	// HTTPClient is used for NIP-11 requests
	HTTPClient *http.Client
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) dialSigner(ctx context.Context) (signer.Signer, error) {
	if a.DialSigner != nil {
		return a.DialSigner(ctx)
	}
	return signer.DialPlebSigner(ctx)
}

// NewRegistry builds the command set
func NewRegistry(app *App) (*dispatch.Registry, error) {
	if app == nil {
		app = &App{}
	}
	return dispatch.NewRegistry(
		app.keygen(),
		app.pubkey(),
		app.encryptKey(),
		app.decryptKey(),
		app.mnemonicKey(),
		app.encode(),
		app.decode(),
		app.event(),
		app.verifyEvent(),
		app.postEvent(),
		app.query(),
		app.count(),
		app.relayInfo(),
		app.getRelays(),
		catCommand(),
		echoCommand(),
		trueCommand(),
		falseCommand(),
	)
}

// NewEngine wires the full command set for a binary named program. Logging
// goes to stderr at the level named by $NOSTRBOX_LOG.
func NewEngine(program, version string) (*dispatch.Engine, error) {
	reg, err := NewRegistry(&App{Version: version})
	if err != nil {
		return nil, err
	}
	return &dispatch.Engine{
		Program:  program,
		Version:  version,
		Registry: reg,
		Classify: Classify,
		Logger:   logging.FromEnv(os.Stderr),
	}, nil
}

// builder turns the positional arguments left after flag parsing into an
// action. It must not touch the outside world.
type builder func(args []string) (dispatch.Action, error)

// command is a dispatch.Command backed by a flag.FlagSet
type command struct {
	name     string
	aliases  []string
	synopsis string
	args     string
	flags    func(fs *flag.FlagSet) builder
}

func (c *command) Name() string      { return c.name }
func (c *command) Aliases() []string { return c.aliases }
func (c *command) Synopsis() string  { return c.synopsis }

func (c *command) flagSet() (*flag.FlagSet, builder) {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, c.flags(fs)
}

func (c *command) Usage(w io.Writer) {
	fs, _ := c.flagSet()
	fmt.Fprintf(w, "usage: %s %s\n\n%s\n", c.name, c.args, c.synopsis)
	if len(c.aliases) > 0 {
		fmt.Fprintf(w, "aliases: %s\n", strings.Join(c.aliases, ", "))
	}

	hasFlags := false
	fs.VisitAll(func(*flag.Flag) { hasFlags = true })
	if hasFlags {
		fmt.Fprintln(w, "\nflags:")
		fs.SetOutput(w)
		fs.PrintDefaults()
	}
}

func (c *command) Parse(args []string) (dispatch.Action, error) {
	fs, build := c.flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return build(fs.Args())
}

// stringList is a repeatable string flag
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func printJSON(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func maxArgs(args []string, n int) error {
	if len(args) > n {
		return dispatch.Usagef("unexpected argument %q", args[n])
	}
	return nil
}
