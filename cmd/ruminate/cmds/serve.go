package cmds

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/ruminate/pkg/redisstream"
	"github.com/go-go-golems/ruminate/pkg/webchat"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/websocket chat surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			ctx := cmd.Context()

			rt, err := buildRuntime(ctx, s)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := pingBackend(cmd, rt); err != nil {
				log.Warn().Err(err).Str("base_url", s.Ollama.BaseURL).Msg("backend not ready, runs will fail until it is")
			}

			ps, err := redisstream.BuildPubSub(ctx, s.Redis, log.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			var opts []webchat.ServerOption
			if rt.ledger != nil {
				opts = append(opts, webchat.WithRunLister(rt.ledger))
			}
			srv, err := webchat.NewServer(s.Server, rt.service, ps, opts...)
			if err != nil {
				return errors.Wrap(err, "build server")
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	cmd.Flags().Bool("redis", false, "Carry events over Redis Streams")
	a.bind(cmd.Flags().Lookup("addr"), "server.addr")
	a.bind(cmd.Flags().Lookup("redis"), "redis.enabled")
	return cmd
}

func pingBackend(cmd *cobra.Command, rt *runtime) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	return rt.backend.Ping(ctx)
}
