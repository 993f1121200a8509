package ledger

import (
	"sort"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
)

// IncentiveConfig names the reward schedule. Token balances here are
// participation credit, unrelated to auth tokens.
type IncentiveConfig struct {
	BaseReward           float64
	SpeedThreshold       time.Duration
	SpeedBonus           float64
	ConsistencyThreshold int
	ConsistencyBonus     float64
	DropoutPenalty       float64
}

func DefaultIncentiveConfig() IncentiveConfig {
	return IncentiveConfig{
		BaseReward:           10.0,
		SpeedThreshold:       30 * time.Second,
		SpeedBonus:           5.0,
		ConsistencyThreshold: 5,
		ConsistencyBonus:     3.0,
		DropoutPenalty:       2.0,
	}
}

// IncentiveRecord is one client's token account.
type IncentiveRecord struct {
	ClientID                  string  `json:"client_id"`
	Balance                   float64 `json:"token_balance"`
	ConsecutiveAcceptedRounds int     `json:"consecutive_accepted_rounds"`
	LastRewardRound           uint64  `json:"last_reward_round"`
	SpeedBonuses              int     `json:"speed_bonuses"`
	ConsistencyBonuses        int     `json:"consistency_bonuses"`
}

type Incentives struct {
	cfg     IncentiveConfig
	records map[string]*IncentiveRecord
}

func NewIncentives(cfg IncentiveConfig) *Incentives {
	return &Incentives{
		cfg:     cfg,
		records: make(map[string]*IncentiveRecord),
	}
}

func (l *Incentives) record(clientID string) *IncentiveRecord {
	r, ok := l.records[clientID]
	if !ok {
		r = &IncentiveRecord{ClientID: clientID}
		l.records[clientID] = r
	}

	return r
}

// AwardAccepted credits the base reward plus any speed and consistency
// bonuses for an accepted update. Returns the total credited.
func (l *Incentives) AwardAccepted(clientID string, roundID uint64, latency time.Duration) float64 {
	r := l.record(clientID)
	tokens := l.cfg.BaseReward

	if latency < l.cfg.SpeedThreshold {
		tokens += l.cfg.SpeedBonus
		r.SpeedBonuses++
	}

	r.ConsecutiveAcceptedRounds++
	if r.ConsecutiveAcceptedRounds >= l.cfg.ConsistencyThreshold {
		tokens += l.cfg.ConsistencyBonus
		r.ConsistencyBonuses++
	}

	r.Balance += tokens
	r.LastRewardRound = roundID

	return tokens
}

// RecordDropout zeroes the consistency streak and applies the penalty.
// Balances never go negative.
func (l *Incentives) RecordDropout(clientID string) {
	r := l.record(clientID)
	r.ConsecutiveAcceptedRounds = 0
	r.Balance -= l.cfg.DropoutPenalty
	if r.Balance < 0 {
		r.Balance = 0
	}
}

func (l *Incentives) Get(clientID string) (IncentiveRecord, error) {
	r, ok := l.records[clientID]
	if !ok {
		return IncentiveRecord{}, errors.ErrUnknownClient
	}

	return *r, nil
}

func (l *Incentives) All() []IncentiveRecord {
	out := make([]IncentiveRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID < out[j].ClientID
	})

	return out
}
