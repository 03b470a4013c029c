package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ajaxzhan/simfs/internal/app"
	"github.com/ajaxzhan/simfs/internal/config"
	"github.com/ajaxzhan/simfs/internal/fs"
	"github.com/ajaxzhan/simfs/internal/logging"
	"github.com/ajaxzhan/simfs/internal/shell"
	"github.com/ajaxzhan/simfs/pkg/types"
)

const clearScreen = "\033[H\033[2J"

func shellCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell",
		Long: `Start an interactive shell on the virtual disk.

Lines starting with ":complete " print tab completions for the rest of
the line instead of running it.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if who, err := sh.Identity(); err == nil {
				if motd, err := a.FS().As(who).Quiet().ReadFile("/etc/motd"); err == nil {
					fmt.Fprint(out, motd)
				}
			}
			return repl(ctx, sh, cmd.InOrStdin(), out)
		},
	}
}

// repl reads lines until exit or end of input.
func repl(ctx context.Context, sh *shell.Shell, in io.Reader, out io.Writer) error {
	r := newLineReader(in)
	for {
		pending, waiting := sh.Pending()
		if waiting {
			fmt.Fprint(out, pending.Message)
		} else {
			fmt.Fprint(out, sh.PromptString())
		}

		var line string
		var err error
		if waiting && pending.Kind == types.PromptSecret {
			line, err = r.readSecret()
			fmt.Fprintln(out)
		} else {
			line, err = r.readLine()
		}
		if err == io.EOF {
			sh.Abandon()
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		if rest, ok := strings.CutPrefix(line, ":complete "); ok && !waiting {
			c := sh.Complete(rest)
			fmt.Fprintln(out, c.Line)
			if len(c.Matches) > 0 {
				fmt.Fprintln(out, strings.Join(c.Matches, "  "))
			}
			continue
		}

		res := sh.Submit(ctx, line)
		if res.Clear {
			fmt.Fprint(out, clearScreen)
		}
		for _, l := range res.Output {
			fmt.Fprintln(out, l)
		}
		if res.Exit {
			return nil
		}
	}
}

// lineReader reads plain lines through a scanner and secret lines from
// the terminal without echo when stdin is one.
type lineReader struct {
	scanner *bufio.Scanner
	fd      int
	tty     bool
}

func newLineReader(in io.Reader) *lineReader {
	r := &lineReader{scanner: bufio.NewScanner(in)}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.fd, r.tty = int(f.Fd()), true
	}
	return r
}

func (r *lineReader) readLine() (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *lineReader) readSecret() (string, error) {
	if !r.tty {
		return r.readLine()
	}
	b, err := term.ReadPassword(r.fd)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printLaunch(w io.Writer) app.LaunchFunc {
	return func(appID string, args []string) {
		if len(args) == 0 {
			fmt.Fprintf(w, "[launched %s]\n", appID)
			return
		}
		fmt.Fprintf(w, "[launched %s %s]\n", appID, strings.Join(args, " "))
	}
}

func printEvents(w io.Writer) fs.Notifier {
	return fs.NotifierFunc(func(e types.Event) {
		fmt.Fprintf(w, "%s: %s\n", e.Severity, e.Message)
	})
}

// ensureStorageDir creates the parent directory of on-disk stores.
func ensureStorageDir(cfg *config.Config) error {
	if cfg.Storage.Backend != "file" && cfg.Storage.Backend != "sqlite" {
		return nil
	}
	dir := filepath.Dir(cfg.Storage.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Error("Failed to create storage directory", logging.String("path", dir), logging.Err(err))
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}
