package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/ruminate/pkg/persistence/runstore"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/ui/runbrowser"
)

func newRunsCommand(a *app) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	listCmd, err := NewRunsListCommand(a)
	cobra.CheckErr(err)
	cobraListCmd, err := cli.BuildCobraCommand(listCmd)
	cobra.CheckErr(err)

	runsCmd.AddCommand(cobraListCmd, newRunsBrowseCommand(a))
	return runsCmd
}

func newRunsBrowseCommand(a *app) *cobra.Command {
	var (
		limit       int
		requesterID string
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse recorded runs in a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := a.openConfiguredLedger()
			if err != nil {
				return err
			}
			defer func() { _ = ledger.Close() }()

			selected, err := runbrowser.Run(cmd.Context(), func(ctx context.Context) ([]reasoning.RunRecord, error) {
				return ledger.Query(ctx, runstore.RunQuery{RequesterID: requesterID, Limit: limit})
			})
			if err != nil {
				return errors.Wrap(err, "run browser")
			}
			if selected != nil {
				cmd.Println(selected.RunID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum number of runs loaded")
	cmd.Flags().StringVar(&requesterID, "requester", "", "Only runs of this requester")
	return cmd
}

var errNoLedger = errors.New("no run ledger configured; set ledger.path or --ledger")

func (a *app) openConfiguredLedger() (*runstore.SQLiteRunStore, error) {
	if a.settings == nil || a.settings.Ledger.Path == "" {
		return nil, errNoLedger
	}
	return openLedger(a.settings.Ledger.Path)
}
