package middleware

import (
	"context"
	"time"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/round"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) RegisterClient(ctx context.Context, clientName string) (coordinator.Registration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "register_client").Add(1)
		mm.latency.With("method", "register_client").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RegisterClient(ctx, clientName)
}

func (mm *metricsMiddleware) GetTask(ctx context.Context, clientID, token string) (coordinator.Task, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_task").Add(1)
		mm.latency.With("method", "get_task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetTask(ctx, clientID, token)
}

func (mm *metricsMiddleware) SubmitUpdate(ctx context.Context, sub coordinator.UpdateSubmission) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "submit_update").Add(1)
		mm.latency.With("method", "submit_update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SubmitUpdate(ctx, sub)
}

func (mm *metricsMiddleware) SubmitUpdateCBOR(ctx context.Context, data []byte) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "submit_update_cbor").Add(1)
		mm.latency.With("method", "submit_update_cbor").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SubmitUpdateCBOR(ctx, data)
}

func (mm *metricsMiddleware) AggregateRound(ctx context.Context, roundID uint64) (coordinator.AggregateResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "aggregate_round").Add(1)
		mm.latency.With("method", "aggregate_round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.AggregateRound(ctx, roundID)
}

func (mm *metricsMiddleware) GetRoundStatus(ctx context.Context, roundID uint64) (round.Status, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_round_status").Add(1)
		mm.latency.With("method", "get_round_status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRoundStatus(ctx, roundID)
}

func (mm *metricsMiddleware) GetModel(ctx context.Context, version string) (model.Artifact, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_model").Add(1)
		mm.latency.With("method", "get_model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetModel(ctx, version)
}

func (mm *metricsMiddleware) GetMetrics(ctx context.Context, roundID uint64) (ledger.RoundSnapshot, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_metrics").Add(1)
		mm.latency.With("method", "get_metrics").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetMetrics(ctx, roundID)
}

func (mm *metricsMiddleware) ListMetrics(ctx context.Context) (coordinator.MetricsReport, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list_metrics").Add(1)
		mm.latency.With("method", "list_metrics").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListMetrics(ctx)
}

func (mm *metricsMiddleware) GetReputation(ctx context.Context, clientID string) (ledger.ReputationView, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_reputation").Add(1)
		mm.latency.With("method", "get_reputation").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetReputation(ctx, clientID)
}

func (mm *metricsMiddleware) ListReputation(ctx context.Context) ([]ledger.ReputationView, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list_reputation").Add(1)
		mm.latency.With("method", "list_reputation").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListReputation(ctx)
}

func (mm *metricsMiddleware) GetIncentives(ctx context.Context, clientID string) (ledger.IncentiveRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_incentives").Add(1)
		mm.latency.With("method", "get_incentives").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetIncentives(ctx, clientID)
}

func (mm *metricsMiddleware) ListIncentives(ctx context.Context) ([]ledger.IncentiveRecord, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list_incentives").Add(1)
		mm.latency.With("method", "list_incentives").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListIncentives(ctx)
}

func (mm *metricsMiddleware) GetAsyncStats(ctx context.Context, roundID uint64) (coordinator.AsyncStats, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get_async_stats").Add(1)
		mm.latency.With("method", "get_async_stats").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetAsyncStats(ctx, roundID)
}

func (mm *metricsMiddleware) Start(ctx context.Context) error {
	return mm.svc.Start(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	return mm.svc.Shutdown(ctx)
}
