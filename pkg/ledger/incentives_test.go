package ledger_test

import (
	"testing"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncentivesUnknownClient(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	_, err := l.Get("ghost")
	assert.ErrorIs(t, err, errors.ErrUnknownClient)
}

func TestAwardBaseReward(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	// Slow update: base reward only.
	tokens := l.AwardAccepted("a", 1, 45*time.Second)
	assert.InDelta(t, 10.0, tokens, 1e-9)

	record, err := l.Get("a")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, record.Balance, 1e-9)
	assert.Equal(t, uint64(1), record.LastRewardRound)
	assert.Equal(t, 1, record.ConsecutiveAcceptedRounds)
}

func TestAwardSpeedBonus(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	tokens := l.AwardAccepted("a", 1, 5*time.Second)
	assert.InDelta(t, 15.0, tokens, 1e-9)

	record, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1, record.SpeedBonuses)
}

func TestAwardConsistencyBonus(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	for i := 1; i <= 4; i++ {
		tokens := l.AwardAccepted("a", uint64(i), time.Minute)
		assert.InDelta(t, 10.0, tokens, 1e-9)
	}

	// Fifth consecutive accepted round reaches the threshold; the
	// streak keeps paying until a dropout resets it.
	tokens := l.AwardAccepted("a", 5, time.Minute)
	assert.InDelta(t, 13.0, tokens, 1e-9)
	tokens = l.AwardAccepted("a", 6, time.Minute)
	assert.InDelta(t, 13.0, tokens, 1e-9)

	record, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, record.ConsistencyBonuses)
	assert.Equal(t, 6, record.ConsecutiveAcceptedRounds)
}

func TestDropoutResetsStreakAndPenalizes(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	l.AwardAccepted("a", 1, time.Minute)
	l.RecordDropout("a")

	record, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0, record.ConsecutiveAcceptedRounds)
	assert.InDelta(t, 8.0, record.Balance, 1e-9)
}

func TestBalanceNeverNegative(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	l.RecordDropout("a")
	l.RecordDropout("a")

	record, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 0.0, record.Balance)
}

func TestIncentivesAll(t *testing.T) {
	l := ledger.NewIncentives(ledger.DefaultIncentiveConfig())

	l.AwardAccepted("b", 1, time.Minute)
	l.AwardAccepted("a", 1, time.Minute)

	records := l.All()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ClientID)
	assert.Equal(t, "b", records[1].ClientID)
}
