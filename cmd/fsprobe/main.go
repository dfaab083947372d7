// Command fsprobe exercises the canister filesystem: it dispatches the
// built-in diagnostic probes, runs canister modules against the same
// filesystem and inspects the result.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type rootOptions struct {
	configPath string
	noColor    bool
	stats      bool
	verbose    bool
}

func main() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fsprobe",
		Short: "Probe the canister filesystem",
		Long: `fsprobe runs diagnostic probes against the POSIX filesystem that backs
canister file access.

Examples:
  # Greet and leave content.txt behind
  fsprobe call greet world

  # Report access(2) for ./tmp, then stat a sparse /tmp
  fsprobe call test_access
  fsprobe call test_stat

  # Run a canister module against the same filesystem
  fsprobe run --wasm probe.wasm greet world`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML configuration file")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVar(&opts.stats, "stats", false, "Print filesystem operation counters on exit")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	cmd.AddCommand(
		newCallCmd(opts),
		newListCmd(opts),
		newTreeCmd(opts),
		newRunCmd(opts),
		newInteractiveCmd(opts),
	)
	return cmd
}
