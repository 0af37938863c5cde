package dispatch

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// sayCommand echoes its arguments, optionally upper-cased
type sayCommand struct {
	name    string
	aliases []string
}

func (c sayCommand) Name() string      { return c.name }
func (c sayCommand) Aliases() []string { return c.aliases }
func (c sayCommand) Synopsis() string  { return "print words" }

func (c sayCommand) Usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [-upper] [-fail mode] words...\n", c.name)
}

func (c sayCommand) Parse(args []string) (Action, error) {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	upper := fs.Bool("upper", false, "")
	fail := fs.String("fail", "", "")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	words := fs.Args()
	return func(ctx context.Context, env *Env) (int, error) {
		switch *fail {
		case "usage":
			return 0, Usagef("need words")
		case "boom":
			return 0, fmt.Errorf("talking: %w", errBoom)
		case "code":
			return 9, nil
		}
		out := strings.Join(words, " ")
		if *upper {
			out = strings.ToUpper(out)
		}
		fmt.Fprintln(env.Stdout, out)
		return ExitOK, nil
	}, nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(
		sayCommand{name: "say", aliases: []string{"speak"}},
		sayCommand{name: "get-relays", aliases: []string{"relays"}},
		sayCommand{name: "get-info"},
	)
	require.NoError(t, err)
	return reg
}

type result struct {
	code   int
	stdout string
	stderr string
}

func newEngine(reg *Registry) (*Engine, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &Engine{
		Program:  "nostrbox",
		Version:  "1.2.3",
		Registry: reg,
		Classify: func(err error) int {
			if errors.Is(err, errBoom) {
				return ExitProtocol
			}
			return ExitFailure
		},
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
	}, &stdout, &stderr
}

func runMain(t *testing.T, argv ...string) result {
	t.Helper()
	e, stdout, stderr := newEngine(testRegistry(t))
	code := e.Main(context.Background(), argv)
	return result{code, stdout.String(), stderr.String()}
}

func runFixed(t *testing.T, name string, args ...string) result {
	t.Helper()
	e, stdout, stderr := newEngine(testRegistry(t))
	code := e.RunFixed(context.Background(), name, args)
	return result{code, stdout.String(), stderr.String()}
}

func TestInvocationPathsAgree(t *testing.T) {
	argSets := [][]string{
		{"-upper", "hello", "world"},
		{"plain"},
		{"-fail", "boom"},
		{"-fail", "usage"},
		{"-fail", "code"},
		{"-nope"},
		{"-h"},
	}
	for _, args := range argSets {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			want := runFixed(t, "say", args...)
			paths := [][]string{
				append([]string{"/usr/bin/nostrbox", "say"}, args...),
				append([]string{"/usr/local/bin/say"}, args...),
				append([]string{"say.exe"}, args...),
				append([]string{"./nostrbox-say"}, args...),
				append([]string{"nostrbox", "speak"}, args...),
			}
			for _, argv := range paths {
				got := runMain(t, argv...)
				assert.Equal(t, want, got, argv[0])
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	r := runMain(t, "nostrbox", "say", "-upper", "hi")
	assert.Equal(t, ExitOK, r.code)
	assert.Equal(t, "HI\n", r.stdout)

	r = runMain(t, "nostrbox", "say", "-nope")
	assert.Equal(t, ExitUsage, r.code)
	assert.Contains(t, r.stderr, "flag provided but not defined")
	assert.Contains(t, r.stderr, "usage: say")

	r = runMain(t, "nostrbox", "say", "-h")
	assert.Equal(t, ExitOK, r.code)
	assert.Contains(t, r.stdout, "usage: say")

	r = runMain(t, "nostrbox", "say", "-fail", "usage")
	assert.Equal(t, ExitUsage, r.code)
	assert.Contains(t, r.stderr, "say: need words")

	r = runMain(t, "nostrbox", "say", "-fail", "boom")
	assert.Equal(t, ExitProtocol, r.code)
	assert.Equal(t, "say: talking: boom\n", r.stderr)

	r = runMain(t, "nostrbox", "say", "-fail", "code")
	assert.Equal(t, 9, r.code)
}

func TestUnknownCommand(t *testing.T) {
	r := runMain(t, "nostrbox", "get")
	assert.Equal(t, ExitUnknownCommand, r.code)
	assert.Contains(t, r.stderr, `unknown command "get"`)
	assert.Contains(t, r.stderr, "candidates: get-info, get-relays")

	r = runMain(t, "nostrbox", "zzz")
	assert.Equal(t, ExitUnknownCommand, r.code)
	assert.Contains(t, r.stderr, "candidates: get-info, get-relays, say")

	r = runFixed(t, "missing")
	assert.Equal(t, ExitUnknownCommand, r.code)

	// usage problems are not unknown commands
	r = runMain(t, "nostrbox", "say", "-bad")
	assert.NotEqual(t, ExitUnknownCommand, r.code)
}

func TestUnderscoreNamesAlias(t *testing.T) {
	reg := testRegistry(t)
	a, ok := reg.Lookup("get_relays")
	require.True(t, ok)
	b, ok := reg.Lookup("get-relays")
	require.True(t, ok)
	assert.Equal(t, a, b)

	assert.Equal(t, runMain(t, "nostrbox", "get-relays", "x"), runMain(t, "nostrbox", "get_relays", "x"))
	assert.Equal(t, runMain(t, "get-relays", "x"), runMain(t, "/bin/get_relays", "x"))
}

func TestResolve(t *testing.T) {
	reg := testRegistry(t)

	cmd, args, err := reg.Resolve("nostrbox", "/bin/nostrbox", []string{"say", "a"})
	require.NoError(t, err)
	assert.Equal(t, "say", cmd.Name())
	assert.Equal(t, []string{"a"}, args)

	cmd, args, err = reg.Resolve("nostrbox", "/bin/speak", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "say", cmd.Name())
	assert.Equal(t, []string{"a"}, args)

	_, _, err = reg.Resolve("nostrbox", "nostrbox", nil)
	var uc *UnknownCommandError
	require.ErrorAs(t, err, &uc)
	assert.Empty(t, uc.Name)
}

func TestBuiltinFlags(t *testing.T) {
	r := runMain(t, "nostrbox", "--version")
	assert.Equal(t, ExitOK, r.code)
	assert.Equal(t, "nostrbox 1.2.3\n", r.stdout)

	r = runMain(t, "nostrbox", "--list")
	assert.Equal(t, "get-info\nget-relays\nsay\n", r.stdout)

	r = runMain(t, "nostrbox", "help")
	assert.Equal(t, ExitOK, r.code)
	assert.Contains(t, r.stdout, "Usage: nostrbox <command>")
	assert.Contains(t, r.stdout, "say (speak)")

	r = runMain(t, "nostrbox", "help", "speak")
	assert.Equal(t, ExitOK, r.code)
	assert.Equal(t, "usage: say [-upper] [-fail mode] words...\n", r.stdout)

	r = runMain(t, "nostrbox")
	assert.Equal(t, ExitUsage, r.code)
	assert.Contains(t, r.stderr, "Commands:")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(sayCommand{name: "say"}, sayCommand{name: "other", aliases: []string{"say"}})
	assert.Error(t, err)

	_, err = NewRegistry(sayCommand{name: "get-relays"}, sayCommand{name: "get_relays"})
	assert.Error(t, err)
}
