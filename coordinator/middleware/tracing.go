package middleware

import (
	"context"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/round"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) RegisterClient(ctx context.Context, clientName string) (coordinator.Registration, error) {
	ctx, span := tm.tracer.Start(ctx, "register_client", trace.WithAttributes(
		attribute.String("client_id", clientName),
	))
	defer span.End()

	return tm.svc.RegisterClient(ctx, clientName)
}

func (tm *tracing) GetTask(ctx context.Context, clientID, token string) (coordinator.Task, error) {
	ctx, span := tm.tracer.Start(ctx, "get_task", trace.WithAttributes(
		attribute.String("client_id", clientID),
	))
	defer span.End()

	return tm.svc.GetTask(ctx, clientID, token)
}

func (tm *tracing) SubmitUpdate(ctx context.Context, sub coordinator.UpdateSubmission) error {
	ctx, span := tm.tracer.Start(ctx, "submit_update", trace.WithAttributes(
		attribute.String("client_id", sub.ClientID),
		attribute.Int64("round_id", int64(sub.RoundID)),
	))
	defer span.End()

	return tm.svc.SubmitUpdate(ctx, sub)
}

func (tm *tracing) SubmitUpdateCBOR(ctx context.Context, data []byte) error {
	ctx, span := tm.tracer.Start(ctx, "submit_update_cbor", trace.WithAttributes(
		attribute.Int("payload_bytes", len(data)),
	))
	defer span.End()

	return tm.svc.SubmitUpdateCBOR(ctx, data)
}

func (tm *tracing) AggregateRound(ctx context.Context, roundID uint64) (coordinator.AggregateResult, error) {
	ctx, span := tm.tracer.Start(ctx, "aggregate_round", trace.WithAttributes(
		attribute.Int64("round_id", int64(roundID)),
	))
	defer span.End()

	return tm.svc.AggregateRound(ctx, roundID)
}

func (tm *tracing) GetRoundStatus(ctx context.Context, roundID uint64) (round.Status, error) {
	ctx, span := tm.tracer.Start(ctx, "get_round_status", trace.WithAttributes(
		attribute.Int64("round_id", int64(roundID)),
	))
	defer span.End()

	return tm.svc.GetRoundStatus(ctx, roundID)
}

func (tm *tracing) GetModel(ctx context.Context, version string) (model.Artifact, error) {
	ctx, span := tm.tracer.Start(ctx, "get_model", trace.WithAttributes(
		attribute.String("version", version),
	))
	defer span.End()

	return tm.svc.GetModel(ctx, version)
}

func (tm *tracing) GetMetrics(ctx context.Context, roundID uint64) (ledger.RoundSnapshot, error) {
	ctx, span := tm.tracer.Start(ctx, "get_metrics", trace.WithAttributes(
		attribute.Int64("round_id", int64(roundID)),
	))
	defer span.End()

	return tm.svc.GetMetrics(ctx, roundID)
}

func (tm *tracing) ListMetrics(ctx context.Context) (coordinator.MetricsReport, error) {
	ctx, span := tm.tracer.Start(ctx, "list_metrics")
	defer span.End()

	return tm.svc.ListMetrics(ctx)
}

func (tm *tracing) GetReputation(ctx context.Context, clientID string) (ledger.ReputationView, error) {
	ctx, span := tm.tracer.Start(ctx, "get_reputation", trace.WithAttributes(
		attribute.String("client_id", clientID),
	))
	defer span.End()

	return tm.svc.GetReputation(ctx, clientID)
}

func (tm *tracing) ListReputation(ctx context.Context) ([]ledger.ReputationView, error) {
	ctx, span := tm.tracer.Start(ctx, "list_reputation")
	defer span.End()

	return tm.svc.ListReputation(ctx)
}

func (tm *tracing) GetIncentives(ctx context.Context, clientID string) (ledger.IncentiveRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "get_incentives", trace.WithAttributes(
		attribute.String("client_id", clientID),
	))
	defer span.End()

	return tm.svc.GetIncentives(ctx, clientID)
}

func (tm *tracing) ListIncentives(ctx context.Context) ([]ledger.IncentiveRecord, error) {
	ctx, span := tm.tracer.Start(ctx, "list_incentives")
	defer span.End()

	return tm.svc.ListIncentives(ctx)
}

func (tm *tracing) GetAsyncStats(ctx context.Context, roundID uint64) (coordinator.AsyncStats, error) {
	ctx, span := tm.tracer.Start(ctx, "get_async_stats", trace.WithAttributes(
		attribute.Int64("round_id", int64(roundID)),
	))
	defer span.End()

	return tm.svc.GetAsyncStats(ctx, roundID)
}

func (tm *tracing) Start(ctx context.Context) error {
	return tm.svc.Start(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	return tm.svc.Shutdown(ctx)
}
