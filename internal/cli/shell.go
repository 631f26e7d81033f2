package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ecodispose/client/internal/app"
)

var errUnterminatedQuote = errors.New("unterminated quote")

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: "shell keeps one session open for its whole lifetime. Each line is a command:\n" +
			"login, register, logout, whoami, profile edit, devices list|refresh|add|update|delete,\n" +
			"open <path>, toasts. Type help for details and exit to quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			a, release, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer release()

			return runShell(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// runShell boots the session and then executes one command per input line
// until EOF, exit or ctx is done.
func runShell(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	if res := a.Boot(ctx); res.OK {
		a.Session.Wait()
		user, _ := a.Session.Current()
		printf(out, "welcome back %s\n", user.DisplayName())
	} else if hint, ok := a.Session.Hint(); ok {
		printf(out, "session for %s has expired, please log in\n", hint.Email)
	}

	scanner := bufio.NewScanner(in)
	for {
		printf(out, "eco> ")
		if !scanner.Scan() {
			printf(out, "\n")
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		args, err := splitArgs(scanner.Text())
		if err != nil {
			printf(out, "error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}

		root := sessionCommands(a, out)
		root.SetArgs(args)
		if err := root.ExecuteContext(ctx); err != nil {
			printf(out, "error: %v\n", err)
		}
	}
}

// splitArgs splits a line on whitespace, keeping single or double quoted
// sections together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		inArg   bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w in %q", errUnterminatedQuote, line)
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
