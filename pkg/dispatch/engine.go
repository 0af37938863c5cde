package dispatch

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/log"
)

// Engine runs commands from a Registry. The multicall entry (Main) and the
// fixed-name entry (RunFixed) share one execution path.
type Engine struct {
	Program  string
	Version  string
	Registry *Registry
	// Classify maps a runtime error to an exit code. Nil means ExitFailure.
	Classify func(error) int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

func (e *Engine) stdin() io.Reader {
	if e.Stdin != nil {
		return e.Stdin
	}
	return os.Stdin
}

func (e *Engine) stdout() io.Writer {
	if e.Stdout != nil {
		return e.Stdout
	}
	return os.Stdout
}

func (e *Engine) stderr() io.Writer {
	if e.Stderr != nil {
		return e.Stderr
	}
	return os.Stderr
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.New(io.Discard)
}

// Main is the multicall entry point. argv includes the program path.
func (e *Engine) Main(ctx context.Context, argv []string) int {
	var argv0 string
	args := argv
	if len(argv) > 0 {
		argv0, args = argv[0], argv[1:]
	}

	if cmd, ok := e.Registry.byInvocationName(e.Program, argv0); ok {
		return e.execute(ctx, cmd, args)
	}

	if len(args) > 0 {
		switch args[0] {
		case "-h", "--help", "help":
			return e.help(args[1:])
		case "--list":
			for _, cmd := range e.Registry.Commands() {
				fmt.Fprintln(e.stdout(), cmd.Name())
			}
			return ExitOK
		case "--version":
			fmt.Fprintf(e.stdout(), "%s %s\n", e.Program, e.Version)
			return ExitOK
		}
	}

	cmd, rest, err := e.Registry.Resolve(e.Program, argv0, args)
	if err != nil {
		return e.unknown(err)
	}
	return e.execute(ctx, cmd, rest)
}

// RunFixed is the entry point of a single-purpose binary bound to name
func (e *Engine) RunFixed(ctx context.Context, name string, args []string) int {
	cmd, ok := e.Registry.Lookup(name)
	if !ok {
		return e.unknown(&UnknownCommandError{Name: name, Candidates: e.Registry.Candidates(name)})
	}
	return e.execute(ctx, cmd, args)
}

func (e *Engine) execute(ctx context.Context, cmd Command, args []string) int {
	logger := e.logger().WithPrefix(cmd.Name())

	action, err := cmd.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		cmd.Usage(e.stdout())
		return ExitOK
	}
	if err != nil {
		fmt.Fprintf(e.stderr(), "%s: %v\n", cmd.Name(), err)
		cmd.Usage(e.stderr())
		return ExitUsage
	}

	env := &Env{
		Name:   cmd.Name(),
		Stdin:  e.stdin(),
		Stdout: e.stdout(),
		Stderr: e.stderr(),
		Logger: logger,
	}
	code, err := action(ctx, env)
	if err == nil {
		return code
	}

	fmt.Fprintf(e.stderr(), "%s: %v\n", cmd.Name(), err)
	var usage *UsageError
	if errors.As(err, &usage) {
		cmd.Usage(e.stderr())
		return ExitUsage
	}
	logger.Debug("command failed", "err", err)

	classified := ExitFailure
	if e.Classify != nil {
		classified = e.Classify(err)
	}
	if classified == ExitOK {
		classified = ExitFailure
	}
	return classified
}

func (e *Engine) help(args []string) int {
	if len(args) == 0 {
		e.PrintUsage(e.stdout())
		return ExitOK
	}
	cmd, ok := e.Registry.Lookup(args[0])
	if !ok {
		return e.unknown(&UnknownCommandError{Name: args[0], Candidates: e.Registry.Candidates(args[0])})
	}
	cmd.Usage(e.stdout())
	return ExitOK
}

func (e *Engine) unknown(err error) int {
	var uc *UnknownCommandError
	if !errors.As(err, &uc) {
		fmt.Fprintf(e.stderr(), "%s: %v\n", e.Program, err)
		return ExitFailure
	}
	if uc.Name == "" {
		e.PrintUsage(e.stderr())
		return ExitUsage
	}
	fmt.Fprintf(e.stderr(), "%s: %v\n", e.Program, uc)
	if len(uc.Candidates) > 0 {
		fmt.Fprintf(e.stderr(), "candidates: %s\n", strings.Join(uc.Candidates, ", "))
	}
	return ExitUnknownCommand
}

// PrintUsage writes the program synopsis and the command table
func (e *Engine) PrintUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s <command> [arguments]\n", e.Program)
	fmt.Fprintf(w, "       <command> [arguments]    (when invoked through a link named after the command)\n\n")
	fmt.Fprintln(w, "Commands:")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, cmd := range e.Registry.Commands() {
		name := cmd.Name()
		if aliases := cmd.Aliases(); len(aliases) > 0 {
			name += " (" + strings.Join(aliases, ", ") + ")"
		}
		fmt.Fprintf(tw, "  %s\t%s\n", name, cmd.Synopsis())
	}
	tw.Flush()

	fmt.Fprintf(w, "\nRun '%s help <command>' for details.\n", e.Program)
}
