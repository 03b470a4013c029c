package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajaxzhan/simfs/internal/app"
)

// errCommandFailed makes the process exit non-zero without extra output;
// the failing command already printed its message.
var errCommandFailed = errors.New("command failed")

func runCmd(g *globals) *cobra.Command {
	var lines []string
	var answers []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run shell command lines non-interactively",
		Long: `Run one or more shell command lines and exit.

Prompts (passwords, confirmations) are answered in order from --answer.
Execution stops at the first failing line.
`,
		Example: `  simfs run -c 'mkdir -p ~/Documents/work' -c 'ls -l ~/Documents'
  simfs run -c 'sudo useradd -p secret alice' --answer user`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(lines) == 0 {
				return errors.New("nothing to run: pass at least one -c")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			a, err := g.open(ctx,
				app.WithLaunchHandler(printLaunch(out)),
				app.WithNotifier(printEvents(cmd.ErrOrStderr())))
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			sh, err := a.NewShell("")
			if err != nil {
				return err
			}
			cmd.SilenceErrors = true
			for _, line := range lines {
				res := sh.Submit(ctx, line)
				for res.Prompt != nil {
					for _, l := range res.Output {
						fmt.Fprintln(out, l)
					}
					if len(answers) == 0 {
						sh.Abandon()
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: no answer for prompt %q\n", line, res.Prompt.Message)
						return errCommandFailed
					}
					res = sh.Submit(ctx, answers[0])
					answers = answers[1:]
				}
				for _, l := range res.Output {
					fmt.Fprintln(out, l)
				}
				if res.Error {
					return errCommandFailed
				}
				if res.Exit {
					break
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&lines, "command", "c", nil, "command line to run (repeatable)")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer for the next prompt (repeatable)")
	return cmd
}
