// Package coordinator orchestrates federated-learning rounds: client
// registration, task assignment, the update-intake pipeline, federated
// averaging, and the reputation, incentive and metrics ledgers.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/absmach/flotilla/pkg/fl"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/round"
)

// Registration is the result of a successful client registration. The
// token authenticates every later call; it is never logged.
type Registration struct {
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

// Task tells a client what to train.
type Task struct {
	RoundID      uint64 `json:"round_id"`
	ModelVersion string `json:"model_version"`
	Task         string `json:"task"`
}

// UpdateSubmission is a client's weight-delta submission as it arrives
// at the intake pipeline. WeightDelta stays raw until the format check;
// Delta is set instead by decoders that already parsed the payload
// (CBOR intake).
type UpdateSubmission struct {
	ClientID       string          `json:"client_id"`
	RoundID        uint64          `json:"round_id"`
	Token          string          `json:"token,omitempty"`
	ModelVersion   string          `json:"model_version,omitempty"`
	WeightDelta    json.RawMessage `json:"weight_delta"`
	TrainingConfig map[string]any  `json:"training_config,omitempty"`
	FinalLoss      *float64        `json:"final_loss,omitempty"`

	Delta *fl.Delta `json:"-"`
}

// AggregateResult reports a finished aggregation.
type AggregateResult struct {
	RoundID         uint64 `json:"round_id"`
	NewModelVersion string `json:"new_model_version"`
	NumUpdates      int    `json:"num_updates"`
	Status          string `json:"status"`
}

// AsyncStats is the async controller's bookkeeping for one round.
type AsyncStats struct {
	RoundID          uint64   `json:"round_id"`
	AsyncEnabled     bool     `json:"async_enabled"`
	Assigned         int      `json:"assigned"`
	Received         int      `json:"received"`
	MinRequired      int      `json:"min_required"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	TimeoutSeconds   float64  `json:"timeout_seconds"`
	TimeoutRemaining float64  `json:"timeout_remaining"`
	Ready            bool     `json:"ready"`
	Stragglers       []string `json:"stragglers"`
}

// MetricsReport bundles all round snapshots with the global counters.
type MetricsReport struct {
	Rounds []ledger.RoundSnapshot `json:"rounds"`
	Global ledger.GlobalCounters  `json:"global"`
}

// AsyncConfig enables quorum- or time-driven round finalization.
type AsyncConfig struct {
	Enabled     bool
	MinUpdates  int
	MaxDuration time.Duration
}

type Service interface {
	// RegisterClient creates the client record and issues its token.
	RegisterClient(ctx context.Context, clientName string) (Registration, error)

	// GetTask assigns the client to the current round. Repeated calls
	// before submission return the same task.
	GetTask(ctx context.Context, clientID, token string) (Task, error)

	// SubmitUpdate runs the intake pipeline over a weight-delta
	// submission and buffers it for aggregation.
	SubmitUpdate(ctx context.Context, sub UpdateSubmission) error

	// SubmitUpdateCBOR decodes a CBOR-encoded submission and feeds it
	// through the same pipeline.
	SubmitUpdateCBOR(ctx context.Context, data []byte) error

	// AggregateRound federated-averages the round's deltas and
	// publishes the next model version.
	AggregateRound(ctx context.Context, roundID uint64) (AggregateResult, error)

	GetRoundStatus(ctx context.Context, roundID uint64) (round.Status, error)
	GetModel(ctx context.Context, version string) (model.Artifact, error)
	GetMetrics(ctx context.Context, roundID uint64) (ledger.RoundSnapshot, error)
	ListMetrics(ctx context.Context) (MetricsReport, error)
	GetReputation(ctx context.Context, clientID string) (ledger.ReputationView, error)
	ListReputation(ctx context.Context) ([]ledger.ReputationView, error)
	GetIncentives(ctx context.Context, clientID string) (ledger.IncentiveRecord, error)
	ListIncentives(ctx context.Context) ([]ledger.IncentiveRecord, error)
	GetAsyncStats(ctx context.Context, roundID uint64) (AsyncStats, error)

	// Start bootstraps the model store, opens the first round, and
	// launches the async controller when enabled.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
