package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/ruminate/pkg/eventbus"
	"github.com/go-go-golems/ruminate/pkg/printer"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/redisstream"
)

func newEventsCommand(a *app) *cobra.Command {
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the progress event stream",
	}
	eventsCmd.AddCommand(newEventsTailCommand(a))
	return eventsCmd
}

func newEventsTailCommand(a *app) *cobra.Command {
	var (
		group       string
		requesterID string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow progress events published over Redis Streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			if !s.Redis.Enabled {
				return errors.New("events tail reads Redis Streams; enable it with redis.enabled or RUMINATE_REDIS_ENABLED=true")
			}
			format, err := printer.ParseFormat(output)
			if err != nil {
				return err
			}
			var sink reasoning.Sink
			if format == printer.FormatText {
				sink = printer.NewPrettyPrinter(cmd.OutOrStdout())
			} else if sink, err = printer.NewStructuredPrinter(cmd.OutOrStdout(), format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if group == "" {
				// a private group sees every event without taking them from the servers
				group = "ruminate-tail-" + uuid.NewString()[:8]
			}
			client := redisstream.NewClient(s.Redis)
			err = redisstream.EnsureGroupAtTail(ctx, client, s.Redis.Topic, group)
			_ = client.Close()
			if err != nil {
				return err
			}

			sub, closeSub, err := redisstream.BuildGroupSubscriber(s.Redis, group, "tail", log.Logger)
			if err != nil {
				return err
			}

			consumer := eventbus.NewConsumer(sub, s.Redis.Topic, func(ctx context.Context, ev reasoning.Event, _ *message.Message) {
				if requesterID != "" && ev.Metadata().RequesterID != requesterID {
					return
				}
				if err := sink.PublishEvent(ctx, ev); err != nil {
					log.Warn().Err(err).Msg("print event failed")
				}
			})

			eg, egCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				defer stop()
				return consumer.Run(egCtx)
			})
			eg.Go(func() error {
				<-egCtx.Done()
				return closeSub()
			})
			log.Info().Str("topic", s.Redis.Topic).Str("group", group).Msg("tailing events")
			return eg.Wait()
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Consumer group (default: a fresh private group)")
	cmd.Flags().StringVar(&requesterID, "requester", "", "Only show events of this requester")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	return cmd
}
