package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/domain"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Full bool // include the whole document
}

// ShowResult summarizes the local document.
type ShowResult struct {
	DeviceID string           `json:"deviceId"`
	Events   int              `json:"events"`
	Hash     string           `json:"hash"`
	Counts   TableCounts      `json:"counts"`
	Document *domain.Snapshot `json:"document,omitempty"`
}

// TableCounts holds the row count of each document table.
type TableCounts struct {
	Organizations   int `json:"organizations"`
	Accounts        int `json:"accounts"`
	Contacts        int `json:"contacts"`
	Notes           int `json:"notes"`
	Interactions    int `json:"interactions"`
	Audits          int `json:"audits"`
	Codes           int `json:"codes"`
	AccountContacts int `json:"accountContacts"`
	AccountCodes    int `json:"accountCodes"`
	Links           int `json:"links"`
	Settings        int `json:"settings"`
}

func countTables(s domain.Snapshot) TableCounts {
	return TableCounts{
		Organizations:   len(s.Organizations),
		Accounts:        len(s.Accounts),
		Contacts:        len(s.Contacts),
		Notes:           len(s.Notes),
		Interactions:    len(s.Interactions),
		Audits:          len(s.Audits),
		Codes:           len(s.Codes),
		AccountContacts: len(s.Relations.AccountContacts),
		AccountCodes:    len(s.Relations.AccountCodes),
		Links:           len(s.Relations.Links),
		Settings:        len(s.Settings),
	}
}

func (r ShowResult) renderText(w io.Writer, _ bool) {
	fmt.Fprintf(w, "device:        %s\n", r.DeviceID)
	fmt.Fprintf(w, "events:        %d\n", r.Events)
	fmt.Fprintf(w, "hash:          %s\n", r.Hash)
	c := r.Counts
	for _, row := range []struct {
		name string
		n    int
	}{
		{"organizations", c.Organizations},
		{"accounts", c.Accounts},
		{"contacts", c.Contacts},
		{"notes", c.Notes},
		{"interactions", c.Interactions},
		{"audits", c.Audits},
		{"codes", c.Codes},
		{"accountContacts", c.AccountContacts},
		{"accountCodes", c.AccountCodes},
		{"links", c.Links},
		{"settings", c.Settings},
	} {
		fmt.Fprintf(w, "%-15s%d\n", row.name+":", row.n)
	}
	if r.Document != nil {
		data, err := json.MarshalIndent(r.Document, "", "  ")
		if err != nil {
			fmt.Fprintf(w, "document: %v\n", err)
			return
		}
		fmt.Fprintf(w, "%s\n", data)
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Summarize the local document",
		Long: `Replay the local log and print the document hash and table counts.

Two devices holding the same events print the same hash.

Examples:
  crmorbit show --db ./crmorbit.db
  crmorbit show --full --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "include the whole document")

	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command) error {
	e, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	eng, err := e.openEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	doc := eng.Document()
	hash, err := doc.Hash()
	if err != nil {
		return fmt.Errorf("hash document: %w", err)
	}
	snap := doc.Snapshot()

	result := ShowResult{
		DeviceID: eng.DeviceID(),
		Events:   eng.Len(),
		Hash:     hash,
		Counts:   countTables(snap),
	}
	if opts.Full {
		result.Document = &snap
	}
	return e.out.Success(result)
}
