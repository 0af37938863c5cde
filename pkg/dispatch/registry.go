// Package dispatch routes a multicall invocation to one registered command
// and turns its outcome into a process exit code.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

// Exit codes shared by every command
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitUsage          = 2
	ExitEncoding       = 3
	ExitCrypto         = 4
	ExitProtocol       = 5
	ExitConnection     = 6
	ExitTimeout        = 7
	ExitUnknownCommand = 127
)

// Env is what a running command may touch
type Env struct {
	Name   string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *log.Logger
}

// Action runs a parsed command. A non-nil error is reported and classified;
// otherwise the returned code becomes the exit status.
type Action func(ctx context.Context, env *Env) (int, error)

type Command interface {
	Name() string
	Aliases() []string
	Synopsis() string
	Usage(w io.Writer)
	// Parse validates args without side effects. flag.ErrHelp asks for usage.
	Parse(args []string) (Action, error)
}

// UsageError is an argument problem. Commands return it from Parse or from
// their Action when validation needs more than flag parsing.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func Usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

type UnknownCommandError struct {
	Name       string
	Candidates []string
}

func (e *UnknownCommandError) Error() string {
	if e.Name == "" {
		return "no command given"
	}
	return fmt.Sprintf("unknown command %q", e.Name)
}

// Registry is an immutable set of commands keyed by name and alias
type Registry struct {
	commands []Command
	index    map[string]Command
}

// NormalizeName folds underscores into hyphens, so get_relays and get-relays
// name the same command.
func NormalizeName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), "_", "-")
}

func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{index: make(map[string]Command)}
	for _, cmd := range cmds {
		names := append([]string{cmd.Name()}, cmd.Aliases()...)
		for _, n := range names {
			key := NormalizeName(n)
			if key == "" {
				return nil, errors.New("command with empty name or alias")
			}
			if prev, ok := r.index[key]; ok {
				return nil, fmt.Errorf("%q registered by both %s and %s", key, prev.Name(), cmd.Name())
			}
			r.index[key] = cmd
		}
		r.commands = append(r.commands, cmd)
	}
	sort.Slice(r.commands, func(i, j int) bool {
		return r.commands[i].Name() < r.commands[j].Name()
	})
	return r, nil
}

func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.index[NormalizeName(name)]
	return cmd, ok
}

// Commands lists registered commands sorted by name
func (r *Registry) Commands() []Command {
	return append([]Command(nil), r.commands...)
}

// Candidates suggests commands for a name that did not resolve: names or
// aliases sharing a prefix or containing it, else every command.
func (r *Registry) Candidates(name string) []string {
	name = NormalizeName(name)
	seen := make(map[string]bool)
	var out []string
	if name != "" {
		for key, cmd := range r.index {
			if strings.HasPrefix(key, name) || strings.HasPrefix(name, key) || strings.Contains(key, name) {
				if !seen[cmd.Name()] {
					seen[cmd.Name()] = true
					out = append(out, cmd.Name())
				}
			}
		}
	}
	if len(out) == 0 {
		for _, cmd := range r.commands {
			out = append(out, cmd.Name())
		}
	}
	sort.Strings(out)
	return out
}

// Resolve picks the command for an invocation. A program basename naming a
// command (a symlink, or "<program>-<command>") wins; otherwise the first
// argument selects it. The returned args exclude the command name.
func (r *Registry) Resolve(program, argv0 string, args []string) (Command, []string, error) {
	if cmd, ok := r.byInvocationName(program, argv0); ok {
		return cmd, args, nil
	}
	if len(args) == 0 {
		return nil, nil, &UnknownCommandError{Candidates: r.Candidates("")}
	}
	cmd, ok := r.Lookup(args[0])
	if !ok {
		return nil, nil, &UnknownCommandError{Name: args[0], Candidates: r.Candidates(args[0])}
	}
	return cmd, args[1:], nil
}

func (r *Registry) byInvocationName(program, argv0 string) (Command, bool) {
	if argv0 == "" {
		return nil, false
	}
	base := filepath.Base(argv0)
	base = strings.TrimSuffix(base, ".exe")
	if base == program {
		return nil, false
	}
	if program != "" {
		base = strings.TrimPrefix(base, program+"-")
	}
	return r.Lookup(base)
}
