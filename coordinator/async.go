package coordinator

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/round"
)

// asyncTickInterval bounds how late a max-duration trigger can fire.
const asyncTickInterval = time.Second

// startAsyncController launches the ticker goroutine that finalizes
// the current round once the quorum or the deadline is reached.
func (svc *service) startAsyncController() {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()

		ticker := time.NewTicker(asyncTickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-svc.stop:
				return
			case <-ticker.C:
				svc.checkCurrentRound()
			}
		}
	}()
}

// checkCurrentRound fires aggregation when the current round holds at
// least one update and either the quorum or the deadline is met. A
// round with zero updates keeps collecting past its deadline.
func (svc *service) checkCurrentRound() {
	svc.mu.Lock()
	r, ok := svc.rounds.Current()
	if !ok || r.State != round.StateCollecting || len(r.Received) == 0 {
		svc.mu.Unlock()

		return
	}
	ready := len(r.Received) >= svc.asyncCfg.MinUpdates ||
		time.Since(r.CreatedAt) >= svc.asyncCfg.MaxDuration
	roundID := r.ID
	svc.mu.Unlock()

	if ready {
		svc.aggregateAsync(roundID)
	}
}

// aggregateAsync is the controller's aggregation entry. Losing the
// race against an explicit trigger is expected and ignored.
func (svc *service) aggregateAsync(roundID uint64) {
	result, err := svc.AggregateRound(context.Background(), roundID)
	switch {
	case err == nil:
		svc.logger.Info("async aggregation completed",
			slog.Uint64("round_id", roundID),
			slog.String("new_model_version", result.NewModelVersion),
			slog.Int("num_updates", result.NumUpdates),
		)
	case stderrors.Is(err, errors.ErrRoundNotCollecting):
	default:
		svc.logger.Warn("async aggregation failed",
			slog.Uint64("round_id", roundID),
			slog.Any("error", err),
		)
	}
}

func (svc *service) GetAsyncStats(_ context.Context, roundID uint64) (AsyncStats, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	r, ok := svc.rounds.Get(roundID)
	if !ok {
		return AsyncStats{}, errors.ErrUnknownRound
	}

	minRequired := len(r.Assigned)
	if svc.asyncCfg.Enabled {
		minRequired = svc.asyncCfg.MinUpdates
	}

	var elapsed time.Duration
	if r.State == round.StateClosed {
		elapsed = r.ClosedAt.Sub(r.CreatedAt)
	} else {
		elapsed = time.Since(r.CreatedAt)
	}

	stats := AsyncStats{
		RoundID:        r.ID,
		AsyncEnabled:   svc.asyncCfg.Enabled,
		Assigned:       len(r.Assigned),
		Received:       len(r.Received),
		MinRequired:    minRequired,
		ElapsedSeconds: elapsed.Seconds(),
		Stragglers:     svc.rounds.Stragglers(roundID),
	}
	if stats.Stragglers == nil {
		stats.Stragglers = []string{}
	}
	if svc.asyncCfg.Enabled {
		stats.TimeoutSeconds = svc.asyncCfg.MaxDuration.Seconds()
		remaining := svc.asyncCfg.MaxDuration - elapsed
		if remaining < 0 || r.State == round.StateClosed {
			remaining = 0
		}
		stats.TimeoutRemaining = remaining.Seconds()
		stats.Ready = r.State == round.StateCollecting && len(r.Received) > 0 &&
			(len(r.Received) >= svc.asyncCfg.MinUpdates || elapsed >= svc.asyncCfg.MaxDuration)
	}

	return stats, nil
}
