package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/odvcencio/mashup/pkg/config"
	"github.com/odvcencio/mashup/pkg/logging"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", colorize(os.Stderr, "31", "Error:"), err)
		os.Exit(exitCodeForError(err))
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mashup",
		Short: "Event-bus widgets with HTTP resources and JSON patches",
		Long: `mashup runs a page of widgets sharing one event bus.

The data provider fetches a resource over HTTP and publishes it as
didReplace.<resource>; the table editor follows that resource and
publishes every edit as didUpdate.<resource> with a JSON patch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ~/.mashup/config.yaml then ./mashup.yaml)")

	rootCmd.AddCommand(
		serveCmd(opts),
		fetchCmd(opts),
		diffCmd(),
		watchCmd(),
		versionCmd(),
	)
	return rootCmd
}

func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withExitCode(err, exitConfig)
	}
	return cfg, nil
}

// newLogger builds the process logger: JSONL files when a directory is
// configured, stderr otherwise.
func newLogger(cfg *config.Config, echo io.Writer) (*logging.Logger, error) {
	var (
		logger *logging.Logger
		err    error
	)
	if cfg.Logging.Dir != "" {
		logger, err = logging.NewLogger(cfg.Logging.Dir, echo)
		if err != nil {
			return nil, err
		}
	} else {
		logger = logging.New(echo)
	}
	logger.SetMinLevel(logging.ParseLevel(cfg.Logging.Level))
	return logger, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// colorize wraps s in an ANSI color when w is a terminal.
func colorize(w io.Writer, code, s string) string {
	if !isTerminal(w) {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}
