package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/chazu/custody/audit"
	"github.com/chazu/custody/vm"
)

func newJournalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal <file>",
		Short: "Print a custody journal and verify it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := audit.ReadFile(args[0])
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Time", "Capsule", "Exception", "Action")
			for _, e := range journal.Events() {
				err := table.Append([]string{
					e.At().UTC().Format(time.RFC3339Nano),
					e.Capsule.String(),
					vm.ExceptionRef(e.Ref).String(),
					string(e.Action),
				})
				if err != nil {
					return err
				}
			}
			if err := table.Render(); err != nil {
				return err
			}

			if err := journal.Verify(); err != nil {
				return fmt.Errorf("custody violated: %w", err)
			}
			fmt.Printf("\n%d events, every capsule disposed exactly once\n", journal.Len())
			return nil
		},
	}
}
