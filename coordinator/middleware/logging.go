package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/round"
)

var _ coordinator.Service = (*loggingMiddleware)(nil)

// loggingMiddleware logs every service call with its duration. Auth
// tokens are never part of the log attributes.
type loggingMiddleware struct {
	logger *slog.Logger
	svc    coordinator.Service
}

func Logging(logger *slog.Logger, svc coordinator.Service) coordinator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) RegisterClient(ctx context.Context, clientName string) (resp coordinator.Registration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("client",
				slog.String("id", clientName),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Register client failed", args...)

			return
		}
		lm.logger.Info("Register client completed successfully", args...)
	}(time.Now())

	return lm.svc.RegisterClient(ctx, clientName)
}

func (lm *loggingMiddleware) GetTask(ctx context.Context, clientID, token string) (resp coordinator.Task, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("client",
				slog.String("id", clientID),
			),
			slog.Group("task",
				slog.Uint64("round_id", resp.RoundID),
				slog.String("model_version", resp.ModelVersion),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get task failed", args...)

			return
		}
		lm.logger.Info("Get task completed successfully", args...)
	}(time.Now())

	return lm.svc.GetTask(ctx, clientID, token)
}

func (lm *loggingMiddleware) SubmitUpdate(ctx context.Context, sub coordinator.UpdateSubmission) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("update",
				slog.String("client_id", sub.ClientID),
				slog.Uint64("round_id", sub.RoundID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Submit update failed", args...)

			return
		}
		lm.logger.Info("Submit update completed successfully", args...)
	}(time.Now())

	return lm.svc.SubmitUpdate(ctx, sub)
}

func (lm *loggingMiddleware) SubmitUpdateCBOR(ctx context.Context, data []byte) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("payload_bytes", len(data)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Submit CBOR update failed", args...)

			return
		}
		lm.logger.Info("Submit CBOR update completed successfully", args...)
	}(time.Now())

	return lm.svc.SubmitUpdateCBOR(ctx, data)
}

func (lm *loggingMiddleware) AggregateRound(ctx context.Context, roundID uint64) (resp coordinator.AggregateResult, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("id", roundID),
				slog.String("new_model_version", resp.NewModelVersion),
				slog.Int("num_updates", resp.NumUpdates),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Aggregate round failed", args...)

			return
		}
		lm.logger.Info("Aggregate round completed successfully", args...)
	}(time.Now())

	return lm.svc.AggregateRound(ctx, roundID)
}

func (lm *loggingMiddleware) GetRoundStatus(ctx context.Context, roundID uint64) (resp round.Status, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("id", roundID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round status failed", args...)

			return
		}
		lm.logger.Info("Get round status completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRoundStatus(ctx, roundID)
}

func (lm *loggingMiddleware) GetModel(ctx context.Context, version string) (resp model.Artifact, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("model",
				slog.String("version", version),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get model failed", args...)

			return
		}
		lm.logger.Info("Get model completed successfully", args...)
	}(time.Now())

	return lm.svc.GetModel(ctx, version)
}

func (lm *loggingMiddleware) GetMetrics(ctx context.Context, roundID uint64) (resp ledger.RoundSnapshot, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("id", roundID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get metrics failed", args...)

			return
		}
		lm.logger.Info("Get metrics completed successfully", args...)
	}(time.Now())

	return lm.svc.GetMetrics(ctx, roundID)
}

func (lm *loggingMiddleware) ListMetrics(ctx context.Context) (resp coordinator.MetricsReport, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List metrics failed", args...)

			return
		}
		lm.logger.Info("List metrics completed successfully", args...)
	}(time.Now())

	return lm.svc.ListMetrics(ctx)
}

func (lm *loggingMiddleware) GetReputation(ctx context.Context, clientID string) (resp ledger.ReputationView, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("client",
				slog.String("id", clientID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get reputation failed", args...)

			return
		}
		lm.logger.Info("Get reputation completed successfully", args...)
	}(time.Now())

	return lm.svc.GetReputation(ctx, clientID)
}

func (lm *loggingMiddleware) ListReputation(ctx context.Context) (resp []ledger.ReputationView, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List reputation failed", args...)

			return
		}
		lm.logger.Info("List reputation completed successfully", args...)
	}(time.Now())

	return lm.svc.ListReputation(ctx)
}

func (lm *loggingMiddleware) GetIncentives(ctx context.Context, clientID string) (resp ledger.IncentiveRecord, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("client",
				slog.String("id", clientID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get incentives failed", args...)

			return
		}
		lm.logger.Info("Get incentives completed successfully", args...)
	}(time.Now())

	return lm.svc.GetIncentives(ctx, clientID)
}

func (lm *loggingMiddleware) ListIncentives(ctx context.Context) (resp []ledger.IncentiveRecord, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List incentives failed", args...)

			return
		}
		lm.logger.Info("List incentives completed successfully", args...)
	}(time.Now())

	return lm.svc.ListIncentives(ctx)
}

func (lm *loggingMiddleware) GetAsyncStats(ctx context.Context, roundID uint64) (resp coordinator.AsyncStats, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Uint64("id", roundID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get async stats failed", args...)

			return
		}
		lm.logger.Info("Get async stats completed successfully", args...)
	}(time.Now())

	return lm.svc.GetAsyncStats(ctx, roundID)
}

func (lm *loggingMiddleware) Start(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Start coordinator failed", args...)

			return
		}
		lm.logger.Info("Start coordinator completed successfully", args...)
	}(time.Now())

	return lm.svc.Start(ctx)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown coordinator failed", args...)

			return
		}
		lm.logger.Info("Shutdown coordinator completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
