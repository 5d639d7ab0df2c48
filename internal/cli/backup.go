package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/backup"
)

// PassphraseEnv is read when --passphrase is not given.
const PassphraseEnv = "CRMORBIT_PASSPHRASE"

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Out        string
	Passphrase string
	NoDocument bool
	NoEvents   bool
}

// ExportResult describes a written backup.
type ExportResult struct {
	Path       string `json:"path,omitempty"`
	Events     int    `json:"events"`
	Document   bool   `json:"document"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

func (r ExportResult) renderText(w io.Writer, _ bool) {
	if r.Path == "" {
		fmt.Fprintln(w, r.Ciphertext)
		return
	}
	fmt.Fprintf(w, "exported %d events to %s\n", r.Events, r.Path)
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Mode       string
	Passphrase string
}

// ImportResult describes an applied backup.
type ImportResult struct {
	Mode      string          `json:"mode"`
	Added     int             `json:"added"`
	Events    int             `json:"events"`
	Conflicts int             `json:"conflicts"`
	Rejected  []RejectedEvent `json:"rejected"`
}

func (r ImportResult) renderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "imported (%s): %d new events, log now %d events\n", r.Mode, r.Added, r.Events)
	if r.Conflicts > 0 {
		fmt.Fprintf(w, "conflicting ids resolved by digest: %d\n", r.Conflicts)
	}
	if len(r.Rejected) > 0 {
		fmt.Fprintf(w, "rejected on replay: %d\n", len(r.Rejected))
		if verbose {
			for _, rej := range r.Rejected {
				fmt.Fprintf(w, "  %s %s %s\n", rej.EventID, rej.Type, rej.Code)
			}
		}
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted backup",
		Long: `Write the document and event log as one encrypted backup string.

The passphrase comes from --passphrase or $` + PassphraseEnv + `.

Examples:
  crmorbit export --out backup.txt
  crmorbit export --no-document > events-only.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&opts.Passphrase, "passphrase", "", "backup passphrase")
	cmd.Flags().BoolVar(&opts.NoDocument, "no-document", false, "omit the document snapshot")
	cmd.Flags().BoolVar(&opts.NoEvents, "no-events", false, "omit the event log (the backup cannot be imported)")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Apply an encrypted backup",
		Long: `Decrypt a backup and apply its event log.

merge unions the backup with the local log, as a peer sync would.
replace swaps the local log for the backup's.

Exit codes:
  0 - Backup applied
  1 - Wrong passphrase or corrupt backup
  2 - Command error

Examples:
  crmorbit import backup.txt
  crmorbit import --mode replace - < backup.txt`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", string(backup.ModeMerge), "import mode (merge|replace)")
	cmd.Flags().StringVar(&opts.Passphrase, "passphrase", "", "backup passphrase")

	return cmd
}

func passphrase(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv(PassphraseEnv); v != "" {
		return v, nil
	}
	return "", NewExitError(ExitCommandError, "a passphrase is required (--passphrase or $"+PassphraseEnv+")")
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	pass, err := passphrase(opts.Passphrase)
	if err != nil {
		return err
	}
	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	eng, err := e.openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	codec := backup.New(backup.NewPassphraseCipher(pass), backup.WithLogger(e.logger))
	sel := backup.Options{IncludeDocument: !opts.NoDocument, IncludeEvents: !opts.NoEvents}
	ciphertext, err := codec.Export(ctx, eng, sel)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export", err)
	}

	result := ExportResult{Document: sel.IncludeDocument}
	if sel.IncludeEvents {
		result.Events = eng.Len()
	}
	if opts.Out == "" {
		result.Ciphertext = ciphertext
		return e.out.Success(result)
	}
	if err := os.WriteFile(opts.Out, []byte(ciphertext+"\n"), 0o600); err != nil {
		return WrapExitError(ExitCommandError, "failed to write backup", err)
	}
	result.Path = opts.Out
	return e.out.Success(result)
}

func runImport(opts *ImportOptions, cmd *cobra.Command, path string) error {
	mode, err := backup.ParseMode(opts.Mode)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --mode", err)
	}
	pass, err := passphrase(opts.Passphrase)
	if err != nil {
		return err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read backup", err)
	}

	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	eng, err := e.openEngine(ctx, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	codec := backup.New(backup.NewPassphraseCipher(pass), backup.WithLogger(e.logger))
	res, err := codec.Import(ctx, eng, strings.TrimSpace(string(data)), mode)
	switch {
	case errors.Is(err, backup.ErrDecryptionFailed):
		if outErr := e.out.Error("DECRYPTION_FAILED", "wrong passphrase or corrupt backup", nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "failed to decrypt backup", err)
	case errors.Is(err, backup.ErrInvalidBackup):
		if outErr := e.out.Error("INVALID_BACKUP", err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "invalid backup", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to import", err)
	}

	return e.out.Success(ImportResult{
		Mode:      string(mode),
		Added:     res.Added,
		Events:    len(res.Events),
		Conflicts: len(res.Conflicts),
		Rejected:  rejectedEvents(res.Rejections),
	})
}
