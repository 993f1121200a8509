package coordinator_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/auth"
	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/fl"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/privacy"
	"github.com/absmach/flotilla/pkg/ratelimit"
	"github.com/absmach/flotilla/pkg/round"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPubSub struct {
	mu        sync.Mutex
	published map[string][]any
}

func newMockPubSub() *mockPubSub {
	return &mockPubSub{published: make(map[string][]any)}
}

func (m *mockPubSub) Publish(_ context.Context, topic string, msg any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = append(m.published[topic], msg)

	return nil
}

func (m *mockPubSub) Disconnect(context.Context) error {
	return nil
}

func (m *mockPubSub) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.published[topic])
}

type testEnv struct {
	svc      coordinator.Service
	pubsub   *mockPubSub
	dataDir  string
	modelDir string
}

type testOpts struct {
	async   coordinator.AsyncConfig
	updates ratelimit.Rate
	seed    [][]float64
}

func newTestEnv(t *testing.T, opts testOpts) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	modelDir := filepath.Join(dataDir, "models")
	store, err := model.NewStore(modelDir)
	require.NoError(t, err)
	if opts.seed != nil {
		require.NoError(t, store.Put("v1", opts.seed))
	}

	metrics, err := ledger.NewMetrics(filepath.Join(dataDir, "metrics"), filepath.Join(dataDir, "logs"))
	require.NoError(t, err)

	if opts.updates.Limit == 0 {
		opts.updates = ratelimit.Rate{Limit: 30, Window: time.Minute}
	}

	pubsub := newMockPubSub()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := coordinator.NewService(
		auth.NewRegistry(),
		ratelimit.NewLimiter(ratelimit.Rate{Limit: 1000, Window: time.Minute}, opts.updates),
		privacy.NewGuard(0),
		round.NewManager(),
		store,
		metrics,
		ledger.NewReputation(),
		ledger.NewIncentives(ledger.DefaultIncentiveConfig()),
		fl.NewFedAvgAggregator(),
		pubsub,
		opts.async,
		time.Minute,
		fl.Shape{3},
		logger,
	)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})

	return &testEnv{svc: svc, pubsub: pubsub, dataDir: dataDir, modelDir: modelDir}
}

func register(t *testing.T, svc coordinator.Service, name string) coordinator.Registration {
	t.Helper()
	reg, err := svc.RegisterClient(context.Background(), name)
	require.NoError(t, err)

	return reg
}

func submission(reg coordinator.Registration, roundID uint64, delta string) coordinator.UpdateSubmission {
	return coordinator.UpdateSubmission{
		ClientID:    reg.ClientID,
		RoundID:     roundID,
		Token:       reg.Token,
		WeightDelta: json.RawMessage(delta),
	}
}

func TestHappyPathTwoClients(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1.0, 2.0, 3.0}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	b := register(t, env.svc, "b")

	taskA, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	taskB, err := env.svc.GetTask(ctx, "b", b.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), taskA.RoundID)
	assert.Equal(t, "v1", taskA.ModelVersion)
	assert.Equal(t, "train", taskA.Task)
	assert.Equal(t, taskA, taskB)

	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))
	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(b, 1, `[[0.5, 0.5, 0.5]]`)))

	result, err := env.svc.AggregateRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.RoundID)
	assert.Equal(t, "v2", result.NewModelVersion)
	assert.Equal(t, 2, result.NumUpdates)

	artifact, err := env.svc.GetModel(ctx, "v2")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.5, 2.5, 3.5}, artifact.Weights[0], 1e-9)

	for _, name := range []string{"a", "b"} {
		view, err := env.svc.GetReputation(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, 1, view.UpdatesAccepted, name)
		assert.Equal(t, 1, view.RoundsCompleted, name)
	}

	status, err := env.svc.GetRoundStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, round.StateClosed, status.State)
	assert.Equal(t, "v2", status.NewVersion)

	// A successor round opened against the new version.
	next, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.RoundID)
	assert.Equal(t, "v2", next.ModelVersion)
}

func TestRegisterDuplicateKeepsFirstToken(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")

	_, err := env.svc.RegisterClient(ctx, "a")
	assert.ErrorIs(t, err, errors.ErrDuplicateClient)

	_, err = env.svc.GetTask(ctx, "a", a.Token)
	assert.NoError(t, err)
}

func TestUnauthorizedSubmission(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	sub := submission(a, 1, `[[0.5, 0.5, 0.5]]`)
	sub.Token = "00112233445566778899aabbccddeeff"
	err = env.svc.SubmitUpdate(ctx, sub)
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	// No ledger change for unauthenticated submissions.
	view, err := env.svc.GetReputation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, view.UpdatesSubmitted)
}

func TestUnknownClientSubmission(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})

	err := env.svc.SubmitUpdate(context.Background(), coordinator.UpdateSubmission{
		ClientID:    "ghost",
		RoundID:     1,
		Token:       "deadbeef",
		WeightDelta: json.RawMessage(`[[0.5]]`),
	})
	assert.ErrorIs(t, err, errors.ErrUnknownClient)
}

func TestGetTaskIdempotent(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")

	first, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := env.svc.GetTask(ctx, "a", a.Token)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Only one assignment is counted.
	view, err := env.svc.GetReputation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.RoundsParticipated)
}

func TestGetTaskWrongToken(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	register(t, env.svc, "a")

	_, err := env.svc.GetTask(ctx, "a", "deadbeef")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	_, err = env.svc.GetTask(ctx, "ghost", "deadbeef")
	assert.ErrorIs(t, err, errors.ErrUnknownClient)
}

func TestDuplicateSubmissionReplay(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))

	incentivesBefore, err := env.svc.GetIncentives(ctx, "a")
	require.NoError(t, err)

	err = env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`))
	assert.ErrorIs(t, err, errors.ErrDuplicateUpdate)

	view, err := env.svc.GetReputation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.UpdatesAccepted)
	assert.Equal(t, 2, view.UpdatesSubmitted)

	// The incentive ledger is not double-credited.
	incentivesAfter, err := env.svc.GetIncentives(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, incentivesBefore.Balance, incentivesAfter.Balance)
}

func TestSubmissionValidation(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	b := register(t, env.svc, "b")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	cases := []struct {
		desc  string
		sub   coordinator.UpdateSubmission
		want  error
	}{
		{
			desc: "unknown round",
			sub:  submission(a, 42, `[[0.5, 0.5, 0.5]]`),
			want: errors.ErrUnknownRound,
		},
		{
			desc: "no assignment",
			sub:  submission(b, 1, `[[0.5, 0.5, 0.5]]`),
			want: errors.ErrNoAssignment,
		},
		{
			desc: "malformed payload",
			sub:  submission(a, 1, `{"w": 1}`),
			want: errors.ErrMalformedDelta,
		},
		{
			desc: "shape mismatch against advertised model",
			sub:  submission(a, 1, `[[0.5, 0.5, 0.5, 0.5]]`),
			want: errors.ErrMalformedDelta,
		},
		{
			desc: "NaN token is not valid JSON",
			sub:  submission(a, 1, `[[0.5, NaN, 0.5]]`),
			want: errors.ErrMalformedDelta,
		},
	}

	for _, tc := range cases {
		err := env.svc.SubmitUpdate(ctx, tc.sub)
		assert.ErrorIs(t, err, tc.want, tc.desc)
	}

	// A well-formed delta still goes through after the rejections.
	err = env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, -0.5, 0.5]]`))
	require.NoError(t, err)
}

func TestInvalidValuesRejected(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	err = env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 2e6]]`))
	assert.ErrorIs(t, err, errors.ErrInvalidValues)

	view, err := env.svc.GetReputation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.UpdatesRejected)

	snapshot, err := env.svc.GetMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.RejectedByReason["invalid_values"])
}

func TestRateLimitedSubmission(t *testing.T) {
	env := newTestEnv(t, testOpts{
		seed:    [][]float64{{1, 2, 3}},
		updates: ratelimit.Rate{Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))

	_, err = env.svc.AggregateRound(ctx, 1)
	require.NoError(t, err)

	task, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	require.Equal(t, uint64(2), task.RoundID)

	err = env.svc.SubmitUpdate(ctx, submission(a, 2, `[[0.5, 0.5, 0.5]]`))
	assert.ErrorIs(t, err, errors.ErrRateLimited)

	view, err := env.svc.GetReputation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.UpdatesRejected)
}

func TestAggregateNotReady(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	_, err = env.svc.AggregateRound(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrNotReady)

	status, err := env.svc.GetRoundStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, round.StateCollecting, status.State)
}

func TestAggregateUnknownRound(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})

	_, err := env.svc.AggregateRound(context.Background(), 42)
	assert.ErrorIs(t, err, errors.ErrUnknownRound)
}

func TestAggregationFailureOpensSuccessor(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))

	// Losing the base artifact forces the aggregation to fail.
	require.NoError(t, os.Remove(filepath.Join(env.modelDir, "v1.json")))

	_, err = env.svc.AggregateRound(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrAggregationFailed)

	status, err := env.svc.GetRoundStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, round.StateClosed, status.State)
	assert.Equal(t, round.ReasonAggregationFailed, status.FailReason)
	assert.Empty(t, status.NewVersion)

	// The successor reuses the failed round's input version.
	status, err = env.svc.GetRoundStatus(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "v1", status.ModelVersion)
}

func TestModelVersionsAreConsecutive(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{0, 0, 0}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	for i := 1; i <= 3; i++ {
		task, err := env.svc.GetTask(ctx, "a", a.Token)
		require.NoError(t, err)
		require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, task.RoundID, `[[1, 1, 1]]`)))
		result, err := env.svc.AggregateRound(ctx, task.RoundID)
		require.NoError(t, err)
		assert.Equal(t, model.FormatVersion(uint64(i+1)), result.NewModelVersion)
	}

	artifact, err := env.svc.GetModel(ctx, "v4")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 3, 3}, artifact.Weights[0], 1e-9)
}

func TestGetModelUnknownVersion(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1}}})

	_, err := env.svc.GetModel(context.Background(), "v9")
	assert.ErrorIs(t, err, errors.ErrUnknownVersion)
}

func TestSubmitUpdateCBOR(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	payload, err := cbor.Marshal(map[string]any{
		"client_id":    "a",
		"round_id":     1,
		"token":        a.Token,
		"weight_delta": [][]float64{{0.5, 0.5, 0.5}},
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.SubmitUpdateCBOR(ctx, payload))

	status, err := env.svc.GetRoundStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, status.Received)
}

func TestSubmitUpdateCBORWithNaN(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)

	// CBOR carries NaN natively; the privacy guard rejects the whole
	// submission.
	payload, err := cbor.Marshal(map[string]any{
		"client_id":    "a",
		"round_id":     1,
		"token":        a.Token,
		"weight_delta": [][]float64{{0.5, math.NaN(), 0.5}},
	})
	require.NoError(t, err)

	err = env.svc.SubmitUpdateCBOR(ctx, payload)
	assert.ErrorIs(t, err, errors.ErrInvalidValues)
}

func TestRoundEventsPublished(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	assert.Equal(t, 1, env.pubsub.count("fl/rounds/open"))

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))
	_, err = env.svc.AggregateRound(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, env.pubsub.count("fl/rounds/closed"))
	assert.Equal(t, 2, env.pubsub.count("fl/rounds/open"))
}

func TestMetricsSnapshotPersisted(t *testing.T) {
	env := newTestEnv(t, testOpts{seed: [][]float64{{1, 2, 3}}})
	ctx := context.Background()

	a := register(t, env.svc, "a")
	_, err := env.svc.GetTask(ctx, "a", a.Token)
	require.NoError(t, err)
	require.NoError(t, env.svc.SubmitUpdate(ctx, submission(a, 1, `[[0.5, 0.5, 0.5]]`)))
	_, err = env.svc.AggregateRound(ctx, 1)
	require.NoError(t, err)

	snapshotFile := filepath.Join(env.dataDir, "metrics", "round_1.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(snapshotFile)

		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}
