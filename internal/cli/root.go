package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/discovery"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is the path of a CUE, YAML or JSON config file.
	Config string

	// The following override the config file when non-empty.
	Database   string
	DeviceID   string
	DeviceName string
	LogLevel   string
	LogFormat  string

	advertiser discovery.Advertiser
	browser    discovery.Browser
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the crmorbit CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(discovery.Zeroconf{}, discovery.Zeroconf{})
}

func newRootCommand(adv discovery.Advertiser, browser discovery.Browser) *cobra.Command {
	opts := &RootOptions{advertiser: adv, browser: browser}

	cmd := &cobra.Command{
		Use:   "crmorbit",
		Short: "crmorbit - offline-first field CRM",
		Long: `An offline-first CRM for facilities audits.

Every change is an event in a local SQLite log. Devices on the same
network find each other over mDNS and exchange logs; merging replays
the union of both logs so every device converges on the same document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.Config, "config", "c", "", "config file (.cue, .yaml, .json)")
	flags.StringVar(&opts.Database, "db", "", "path to SQLite database")
	flags.StringVar(&opts.DeviceID, "device-id", "", "device id stamped on local events")
	flags.StringVar(&opts.DeviceName, "device-name", "", "device name announced to peers")
	flags.StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	flags.StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPeersCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
