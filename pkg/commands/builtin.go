package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"nostrbox/pkg/dispatch"
)

// The built-ins cover only what scripts around nostrbox need. They are not
// POSIX complete.

func catCommand() dispatch.Command {
	return &command{
		name:     "cat",
		synopsis: "Copy files, or stdin, to stdout",
		args:     "[file...|-]",
		flags: func(fs *flag.FlagSet) builder {
			return func(args []string) (dispatch.Action, error) {
				files := args
				if len(files) == 0 {
					files = []string{"-"}
				}
				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					for _, name := range files {
						if err := catFile(env, name); err != nil {
							return 0, err
						}
					}
					return dispatch.ExitOK, nil
				}, nil
			}
		},
	}
}

func catFile(env *dispatch.Env, name string) error {
	if name == "-" {
		_, err := io.Copy(env.Stdout, env.Stdin)
		return err
	}
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(env.Stdout, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	return nil
}

func echoCommand() dispatch.Command {
	return &command{
		name:     "echo",
		synopsis: "Print the arguments separated by spaces",
		args:     "[-n] [word...]",
		flags: func(fs *flag.FlagSet) builder {
			noNewline := fs.Bool("n", false, "do not print the trailing newline")

			return func(args []string) (dispatch.Action, error) {
				return func(ctx context.Context, env *dispatch.Env) (int, error) {
					out := strings.Join(args, " ")
					if !*noNewline {
						out += "\n"
					}
					_, err := io.WriteString(env.Stdout, out)
					return dispatch.ExitOK, err
				}, nil
			}
		},
	}
}

func trueCommand() dispatch.Command {
	return &command{
		name:     "true",
		synopsis: "Do nothing, successfully",
		flags:    exitWith(dispatch.ExitOK),
	}
}

func falseCommand() dispatch.Command {
	return &command{
		name:     "false",
		synopsis: "Do nothing, unsuccessfully",
		flags:    exitWith(dispatch.ExitFailure),
	}
}

// exitWith ignores its arguments
func exitWith(code int) func(fs *flag.FlagSet) builder {
	return func(fs *flag.FlagSet) builder {
		return func([]string) (dispatch.Action, error) {
			return func(context.Context, *dispatch.Env) (int, error) { return code, nil }, nil
		}
	}
}
