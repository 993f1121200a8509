package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/flotilla/pkg/auth"
	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/fl"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/mqtt"
	"github.com/absmach/flotilla/pkg/privacy"
	"github.com/absmach/flotilla/pkg/ratelimit"
	"github.com/absmach/flotilla/pkg/round"
	"github.com/fxamacker/cbor/v2"
)

const trainTask = "train"

// service is the coordinator context: it owns every ledger and runs
// all mutations under one mutex (single-writer discipline). Aggregation
// and disk writes happen outside the lock on copied-out state.
type service struct {
	mu sync.Mutex

	auth       *auth.Registry
	limiter    *ratelimit.Limiter
	guard      privacy.Guard
	rounds     *round.Manager
	store      *model.Store
	metrics    *ledger.Metrics
	reputation *ledger.Reputation
	incentives *ledger.Incentives
	aggregator fl.Aggregator
	pubsub     mqtt.PubSub
	logger     *slog.Logger

	asyncCfg   AsyncConfig
	aggTimeout time.Duration
	bootShape  fl.Shape

	// shapes caches the layer shape of every known version so the
	// format check never touches disk inside the serialized region.
	shapes map[string]fl.Shape

	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewService(
	authReg *auth.Registry,
	limiter *ratelimit.Limiter,
	guard privacy.Guard,
	rounds *round.Manager,
	store *model.Store,
	metrics *ledger.Metrics,
	reputation *ledger.Reputation,
	incentives *ledger.Incentives,
	aggregator fl.Aggregator,
	pubsub mqtt.PubSub,
	asyncCfg AsyncConfig,
	aggTimeout time.Duration,
	bootShape fl.Shape,
	logger *slog.Logger,
) Service {
	return &service{
		auth:       authReg,
		limiter:    limiter,
		guard:      guard,
		rounds:     rounds,
		store:      store,
		metrics:    metrics,
		reputation: reputation,
		incentives: incentives,
		aggregator: aggregator,
		pubsub:     pubsub,
		asyncCfg:   asyncCfg,
		aggTimeout: aggTimeout,
		bootShape:  bootShape,
		shapes:     make(map[string]fl.Shape),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

func (svc *service) Start(ctx context.Context) error {
	latest, err := svc.store.Bootstrap(svc.bootShape)
	if err != nil {
		return err
	}
	artifact, err := svc.store.Get(latest)
	if err != nil {
		return err
	}

	svc.mu.Lock()
	svc.shapes[latest] = artifact.Shape()
	r := svc.rounds.Open(latest)
	svc.metrics.RoundStarted(r.ID, latest)
	svc.mu.Unlock()

	svc.publishRoundOpen(ctx, r.ID, latest)

	if svc.asyncCfg.Enabled {
		svc.startAsyncController()
	}

	return nil
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.stopped.Do(func() {
		close(svc.stop)
	})
	svc.wg.Wait()

	return svc.pubsub.Disconnect(ctx)
}

func (svc *service) RegisterClient(_ context.Context, clientName string) (Registration, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	token, err := svc.auth.Issue(clientName)
	if err != nil {
		return Registration{}, err
	}
	if err := svc.rounds.Register(clientName); err != nil {
		return Registration{}, err
	}

	return Registration{ClientID: clientName, Token: token}, nil
}

func (svc *service) GetTask(_ context.Context, clientID, token string) (Task, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if !svc.auth.IsRegistered(clientID) {
		return Task{}, errors.ErrUnknownClient
	}
	if !svc.auth.Verify(clientID, token) {
		return Task{}, errors.ErrUnauthorized
	}
	if !svc.limiter.Check(clientID, ratelimit.KindRequest) {
		return Task{}, errors.ErrRateLimited
	}

	r, created, err := svc.rounds.Assign(clientID)
	if err != nil {
		return Task{}, err
	}
	if created {
		svc.metrics.ClientAssigned(r.ID, clientID)
		svc.reputation.ClientAssigned(clientID)
	}

	return Task{RoundID: r.ID, ModelVersion: r.InputVersion, Task: trainTask}, nil
}

// SubmitUpdate runs the intake stages in order, short-circuiting on
// the first failure: token, registration, assignment, rate limit,
// duplicate, format, values. Ledgers observe rejections only once the
// caller has authenticated.
func (svc *service) SubmitUpdate(_ context.Context, sub UpdateSubmission) error {
	svc.mu.Lock()

	if !svc.auth.IsRegistered(sub.ClientID) {
		svc.mu.Unlock()

		return errors.ErrUnknownClient
	}
	if !svc.auth.Verify(sub.ClientID, sub.Token) {
		svc.mu.Unlock()

		return errors.ErrUnauthorized
	}
	if !svc.rounds.IsRegistered(sub.ClientID) {
		svc.mu.Unlock()

		return errors.ErrUnknownClient
	}

	r, ok := svc.rounds.Get(sub.RoundID)
	if !ok {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrUnknownRound)
	}
	if _, assigned := r.Assigned[sub.ClientID]; !assigned {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrNoAssignment)
	}
	if r.State != round.StateCollecting {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrRoundNotCollecting)
	}
	if !svc.limiter.Check(sub.ClientID, ratelimit.KindUpdate) {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrRateLimited)
	}
	if _, dup := r.Received[sub.ClientID]; dup {
		// Replays are observable but never double-credit the
		// incentive or metrics ledgers; the first payload wins.
		svc.reputation.UpdateRejected(sub.ClientID)
		svc.mu.Unlock()

		return errors.ErrDuplicateUpdate
	}

	var delta fl.Delta
	if sub.Delta != nil {
		delta = *sub.Delta
	} else {
		var err error
		if delta, err = fl.ParseDelta(sub.WeightDelta); err != nil {
			defer svc.mu.Unlock()

			return svc.reject(sub.ClientID, sub.RoundID, errors.ErrMalformedDelta)
		}
	}
	if len(delta.Layers) == 0 {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrMalformedDelta)
	}
	if shape, ok := svc.shapes[r.InputVersion]; ok && !delta.Shape().Equal(shape) {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrMalformedDelta)
	}
	if err := svc.guard.Inspect(delta); err != nil {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, errors.ErrInvalidValues)
	}

	now := time.Now()
	u := fl.Update{
		ClientID:   sub.ClientID,
		RoundID:    sub.RoundID,
		Delta:      delta,
		FinalLoss:  sub.FinalLoss,
		ReceivedAt: now,
	}
	if err := svc.rounds.RecordUpdate(sub.ClientID, sub.RoundID, u); err != nil {
		defer svc.mu.Unlock()

		return svc.reject(sub.ClientID, sub.RoundID, err)
	}

	latency := now.Sub(r.CreatedAt)
	svc.reputation.UpdateAccepted(sub.ClientID, latency)
	svc.incentives.AwardAccepted(sub.ClientID, sub.RoundID, latency)
	svc.metrics.UpdateAccepted(sub.RoundID)

	quorum := svc.asyncCfg.Enabled && len(r.Received) >= svc.asyncCfg.MinUpdates
	roundID := r.ID
	svc.mu.Unlock()

	if quorum {
		svc.wg.Add(1)
		go func() {
			defer svc.wg.Done()
			svc.aggregateAsync(roundID)
		}()
	}

	return nil
}

func (svc *service) SubmitUpdateCBOR(ctx context.Context, data []byte) error {
	var sub struct {
		ClientID     string      `cbor:"client_id"`
		RoundID      uint64      `cbor:"round_id"`
		Token        string      `cbor:"token"`
		ModelVersion string      `cbor:"model_version"`
		WeightDelta  [][]float64 `cbor:"weight_delta"`
		FinalLoss    *float64    `cbor:"final_loss"`
	}
	if err := cbor.Unmarshal(data, &sub); err != nil {
		return errors.ErrMalformedDelta
	}

	return svc.SubmitUpdate(ctx, UpdateSubmission{
		ClientID:     sub.ClientID,
		RoundID:      sub.RoundID,
		Token:        sub.Token,
		ModelVersion: sub.ModelVersion,
		Delta:        &fl.Delta{Layers: sub.WeightDelta},
		FinalLoss:    sub.FinalLoss,
	})
}

// reject records a rejection on the reputation and metrics ledgers and
// returns the taxonomy error. Callers hold the lock.
func (svc *service) reject(clientID string, roundID uint64, err error) error {
	svc.reputation.UpdateRejected(clientID)
	svc.metrics.UpdateRejected(roundID, errors.Code(err))

	return err
}

func (svc *service) AggregateRound(ctx context.Context, roundID uint64) (AggregateResult, error) {
	svc.mu.Lock()
	updates, err := svc.rounds.BeginAggregation(roundID)
	if err != nil {
		svc.mu.Unlock()

		return AggregateResult{}, err
	}
	r, _ := svc.rounds.Get(roundID)
	inputVersion := r.InputVersion
	svc.metrics.AggregationStarted(roundID)
	svc.mu.Unlock()

	base, err := svc.store.Get(inputVersion)
	if err != nil {
		return svc.failRound(ctx, roundID, inputVersion, err)
	}

	next, err := svc.computeAggregate(ctx, base.Weights, updates)
	if err != nil {
		return svc.failRound(ctx, roundID, inputVersion, err)
	}

	newVersion, err := model.NextVersion(inputVersion)
	if err != nil {
		return svc.failRound(ctx, roundID, inputVersion, err)
	}
	if err := svc.store.Put(newVersion, next); err != nil {
		return svc.failRound(ctx, roundID, inputVersion, err)
	}

	svc.mu.Lock()
	stragglers := svc.rounds.Stragglers(roundID)
	if _, err := svc.rounds.Close(roundID, newVersion, ""); err != nil {
		svc.mu.Unlock()

		return AggregateResult{}, err
	}
	for _, u := range updates {
		svc.reputation.RoundCompleted(u.ClientID)
	}
	for _, clientID := range stragglers {
		svc.reputation.RoundDropped(clientID)
		svc.incentives.RecordDropout(clientID)
	}
	snapshot, haveSnapshot := svc.metrics.RoundClosed(roundID, stragglers, false)

	shape := make(fl.Shape, len(next))
	for i, layer := range next {
		shape[i] = len(layer)
	}
	svc.shapes[newVersion] = shape

	successor := svc.rounds.Open(newVersion)
	svc.metrics.RoundStarted(successor.ID, newVersion)
	svc.limiter.Prune()
	svc.mu.Unlock()

	if haveSnapshot {
		svc.persistSnapshot(snapshot)
	}
	result := AggregateResult{
		RoundID:         roundID,
		NewModelVersion: newVersion,
		NumUpdates:      len(updates),
		Status:          "aggregated",
	}
	svc.publishRoundClosed(ctx, result)
	svc.publishRoundOpen(ctx, successor.ID, newVersion)

	return result, nil
}

// failRound closes the round without a new version and opens a
// successor against the same input version.
func (svc *service) failRound(ctx context.Context, roundID uint64, inputVersion string, cause error) (AggregateResult, error) {
	svc.logger.Warn("aggregation failed",
		slog.Uint64("round_id", roundID),
		slog.Any("error", cause),
	)

	svc.mu.Lock()
	stragglers := svc.rounds.Stragglers(roundID)
	if _, err := svc.rounds.Close(roundID, "", round.ReasonAggregationFailed); err != nil {
		svc.mu.Unlock()

		return AggregateResult{}, err
	}
	snapshot, haveSnapshot := svc.metrics.RoundClosed(roundID, stragglers, true)
	successor := svc.rounds.Open(inputVersion)
	svc.metrics.RoundStarted(successor.ID, inputVersion)
	svc.limiter.Prune()
	svc.mu.Unlock()

	if haveSnapshot {
		svc.persistSnapshot(snapshot)
	}
	svc.publishRoundClosed(ctx, AggregateResult{
		RoundID: roundID,
		Status:  round.ReasonAggregationFailed,
	})
	svc.publishRoundOpen(ctx, successor.ID, inputVersion)

	return AggregateResult{}, errors.ErrAggregationFailed
}

// computeAggregate runs federated averaging off the lock, bounded by
// the soft aggregation timeout.
func (svc *service) computeAggregate(ctx context.Context, base [][]float64, updates []fl.Update) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, svc.aggTimeout)
	defer cancel()

	type outcome struct {
		weights [][]float64
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		weights, err := svc.aggregator.Aggregate(base, updates)
		done <- outcome{weights: weights, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.ErrAggregationFailed
	case out := <-done:
		return out.weights, out.err
	}
}

func (svc *service) GetRoundStatus(_ context.Context, roundID uint64) (round.Status, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.rounds.Status(roundID)
}

func (svc *service) GetModel(_ context.Context, version string) (model.Artifact, error) {
	return svc.store.Get(version)
}

func (svc *service) GetMetrics(_ context.Context, roundID uint64) (ledger.RoundSnapshot, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.metrics.Get(roundID)
}

func (svc *service) ListMetrics(_ context.Context) (MetricsReport, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return MetricsReport{
		Rounds: svc.metrics.All(),
		Global: svc.metrics.Global(),
	}, nil
}

func (svc *service) GetReputation(_ context.Context, clientID string) (ledger.ReputationView, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.reputation.Get(clientID)
}

func (svc *service) ListReputation(_ context.Context) ([]ledger.ReputationView, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.reputation.All(), nil
}

func (svc *service) GetIncentives(_ context.Context, clientID string) (ledger.IncentiveRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.incentives.Get(clientID)
}

func (svc *service) ListIncentives(_ context.Context) ([]ledger.IncentiveRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return svc.incentives.All(), nil
}

func (svc *service) persistSnapshot(snapshot ledger.RoundSnapshot) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		if err := svc.metrics.Persist(snapshot); err != nil {
			svc.logger.Warn("failed to persist round metrics",
				slog.Uint64("round_id", snapshot.RoundID),
				slog.Any("error", err),
			)
		}
	}()
}

func (svc *service) publishRoundOpen(ctx context.Context, roundID uint64, version string) {
	msg := map[string]any{
		"round_id":      roundID,
		"model_version": version,
	}
	if err := svc.pubsub.Publish(ctx, mqtt.TopicRoundOpen, msg); err != nil {
		svc.logger.Warn("failed to publish round open event",
			slog.Uint64("round_id", roundID),
			slog.Any("error", err),
		)
	}
}

func (svc *service) publishRoundClosed(ctx context.Context, result AggregateResult) {
	if err := svc.pubsub.Publish(ctx, mqtt.TopicRoundClosed, result); err != nil {
		svc.logger.Warn("failed to publish round closed event",
			slog.Uint64("round_id", result.RoundID),
			slog.Any("error", err),
		)
	}
}
