package cmds

import (
	"context"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/ruminate/pkg/persistence/runstore"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

type RunsListCommand struct {
	*cmds.CommandDescription
	app *app
}

type RunsListSettings struct {
	Limit       int    `glazed:"limit"`
	RequesterID string `glazed:"requester"`
	Status      string `glazed:"status"`
}

func NewRunsListCommand(a *app) (*RunsListCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List recorded runs, newest first"),
		cmds.WithLong("List runs from the sqlite run ledger with their requester, status, step counts and timings."),
		cmds.WithFlags(
			fields.New(
				"limit",
				fields.TypeInteger,
				fields.WithDefault(20),
				fields.WithHelp("Maximum number of runs (0 = no limit)"),
			),
			fields.New(
				"requester",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only runs of this requester"),
			),
			fields.New(
				"status",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only runs with this status (running, completed, failed)"),
			),
		),
		cmds.WithSections(glazedLayer),
	)

	return &RunsListCommand{CommandDescription: desc, app: a}, nil
}

func (c *RunsListCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedLayers *values.Values,
	gp middlewares.Processor,
) error {
	ledger, err := c.app.openConfiguredLedger()
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	s := &RunsListSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	status := reasoning.RunStatus(s.Status)
	switch status {
	case "", reasoning.RunStatusRunning, reasoning.RunStatusCompleted, reasoning.RunStatusFailed:
	default:
		return errors.Errorf("unknown run status %q", s.Status)
	}

	runs, err := ledger.Query(ctx, runstore.RunQuery{RequesterID: s.RequesterID, Status: status, Limit: s.Limit})
	if err != nil {
		return errors.Wrap(err, "runs list query failed")
	}
	return emitRunRows(ctx, runs, gp.AddRow)
}

// emitRunRows turns each record into one row. Timestamps are RFC 3339 and
// empty while unset; duration is empty for runs that have not finished.
func emitRunRows(ctx context.Context, runs []reasoning.RunRecord, add func(context.Context, types.Row) error) error {
	for _, r := range runs {
		var started, finished, duration string
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Format(time.RFC3339)
		}
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Format(time.RFC3339)
			if !r.StartedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
		}
		row := types.NewRow(
			types.MRP("run_id", r.RunID),
			types.MRP("requester_id", r.RequesterID),
			types.MRP("status", string(r.Status)),
			types.MRP("steps_done", r.StepsDone),
			types.MRP("total_steps", r.TotalSteps),
			types.MRP("error", r.Error),
			types.MRP("started_at", started),
			types.MRP("finished_at", finished),
			types.MRP("duration", duration),
		)
		if err := add(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var _ cmds.GlazeCommand = &RunsListCommand{}
