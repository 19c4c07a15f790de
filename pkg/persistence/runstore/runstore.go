package runstore

import (
	"context"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

// RunQuery filters ledger rows. Empty fields match everything.
type RunQuery struct {
	RequesterID string
	Status      reasoning.RunStatus
	Limit       int
}

// RunStore is the run ledger: run ids, requesters, status and timings. Prompts,
// step text and conversations are never stored.
type RunStore interface {
	reasoning.RunRecorder
	List(ctx context.Context, limit int) ([]reasoning.RunRecord, error)
	Query(ctx context.Context, q RunQuery) ([]reasoning.RunRecord, error)
	Close() error
}
