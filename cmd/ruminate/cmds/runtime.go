package cmds

import (
	"context"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/backend/ollama"
	"github.com/go-go-golems/ruminate/pkg/config"
	"github.com/go-go-golems/ruminate/pkg/persistence/runstore"
	"github.com/go-go-golems/ruminate/pkg/reasoning"
	"github.com/go-go-golems/ruminate/pkg/tokens"
)

// runtime wires the backend, orchestrator, service and optional ledger from settings.
type runtime struct {
	backend *ollama.Client
	service *reasoning.Service
	ledger  runstore.RunStore
}

func buildRuntime(ctx context.Context, s *config.Settings) (*runtime, error) {
	backend := ollama.NewClient(
		ollama.WithBaseURL(s.Ollama.BaseURL),
		ollama.WithModel(s.Ollama.Model),
		ollama.WithTimeout(s.Ollama.Timeout),
	)

	var orchOpts []reasoning.OrchestratorOption
	if s.Tokens.Enabled {
		tc, err := tokens.NewCounter(s.Tokens.Encoding)
		if err != nil {
			log.Warn().Err(err).Msg("token counting disabled")
		} else {
			orchOpts = append(orchOpts, reasoning.WithTokenCounter(tc))
		}
	}
	orch, err := reasoning.NewOrchestrator(backend, s.Reasoning, orchOpts...)
	if err != nil {
		return nil, err
	}

	rt := &runtime{backend: backend}
	var svcOpts []reasoning.ServiceOption
	if s.Ledger.Path != "" {
		ledger, err := openLedger(s.Ledger.Path)
		if err != nil {
			return nil, err
		}
		rt.ledger = ledger
		svcOpts = append(svcOpts, reasoning.WithRunRecorder(ledger))
	}
	svc, err := reasoning.NewService(ctx, orch, svcOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.service = svc
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt == nil || rt.ledger == nil {
		return nil
	}
	return rt.ledger.Close()
}

func openLedger(path string) (*runstore.SQLiteRunStore, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "expand ledger path")
	}
	dsn, err := runstore.DSNForFile(path)
	if err != nil {
		return nil, err
	}
	return runstore.NewSQLiteRunStore(dsn)
}
