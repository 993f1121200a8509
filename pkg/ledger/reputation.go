// Package ledger holds the per-client reputation and incentive
// accounts and the per-round metrics snapshots the intake pipeline
// feeds. Records are plain data; all behavior runs through the
// coordinator context. None of the types are safe for concurrent use
// on their own; callers serialize access.
package ledger

import (
	"sort"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
)

// DefaultLatencyCeil normalizes latency into the score's last term.
const DefaultLatencyCeil = 60 * time.Second

// ReputationRecord tracks one client's participation history.
type ReputationRecord struct {
	ClientID           string    `json:"client_id"`
	RoundsParticipated int       `json:"rounds_participated"`
	RoundsCompleted    int       `json:"rounds_completed"`
	RoundsDropped      int       `json:"rounds_dropped"`
	UpdatesSubmitted   int       `json:"updates_submitted"`
	UpdatesAccepted    int       `json:"updates_accepted"`
	UpdatesRejected    int       `json:"updates_rejected"`
	TotalLatency       float64   `json:"-"`
	LatencySamples     int       `json:"-"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
}

func (r ReputationRecord) MeanLatencySeconds() float64 {
	if r.LatencySamples == 0 {
		return 0
	}

	return r.TotalLatency / float64(r.LatencySamples)
}

// Score folds completion, acceptance, dropout and latency into [0,1]:
// 0.4·completion + 0.3·acceptance + 0.2·(1−dropout) + 0.1·latency.
func (r ReputationRecord) Score() float64 {
	participated := r.RoundsParticipated
	if participated < 1 {
		participated = 1
	}
	submitted := r.UpdatesSubmitted
	if submitted < 1 {
		submitted = 1
	}

	completion := float64(r.RoundsCompleted) / float64(participated)
	acceptance := float64(r.UpdatesAccepted) / float64(submitted)
	dropout := float64(r.RoundsDropped) / float64(participated)
	latency := 1 - r.MeanLatencySeconds()/DefaultLatencyCeil.Seconds()
	if latency < 0 {
		latency = 0
	}
	if latency > 1 {
		latency = 1
	}

	score := 0.4*completion + 0.3*acceptance + 0.2*(1-dropout) + 0.1*latency
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}

	return score
}

// ReputationView is the record plus its derived score.
type ReputationView struct {
	ReputationRecord
	MeanLatency float64 `json:"mean_latency_seconds"`
	ScoreValue  float64 `json:"score"`
}

type Reputation struct {
	records map[string]*ReputationRecord
	now     func() time.Time
}

func NewReputation() *Reputation {
	return &Reputation{
		records: make(map[string]*ReputationRecord),
		now:     time.Now,
	}
}

func (l *Reputation) record(clientID string) *ReputationRecord {
	r, ok := l.records[clientID]
	if !ok {
		r = &ReputationRecord{ClientID: clientID, FirstSeen: l.now()}
		l.records[clientID] = r
	}
	r.LastSeen = l.now()

	return r
}

func (l *Reputation) ClientAssigned(clientID string) {
	l.record(clientID).RoundsParticipated++
}

func (l *Reputation) UpdateAccepted(clientID string, latency time.Duration) {
	r := l.record(clientID)
	r.UpdatesSubmitted++
	r.UpdatesAccepted++
	r.TotalLatency += latency.Seconds()
	r.LatencySamples++
}

func (l *Reputation) UpdateRejected(clientID string) {
	r := l.record(clientID)
	r.UpdatesSubmitted++
	r.UpdatesRejected++
}

func (l *Reputation) RoundCompleted(clientID string) {
	l.record(clientID).RoundsCompleted++
}

func (l *Reputation) RoundDropped(clientID string) {
	l.record(clientID).RoundsDropped++
}

func (l *Reputation) Get(clientID string) (ReputationView, error) {
	r, ok := l.records[clientID]
	if !ok {
		return ReputationView{}, errors.ErrUnknownClient
	}

	return ReputationView{
		ReputationRecord: *r,
		MeanLatency:      r.MeanLatencySeconds(),
		ScoreValue:       r.Score(),
	}, nil
}

func (l *Reputation) All() []ReputationView {
	out := make([]ReputationView, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, ReputationView{
			ReputationRecord: *r,
			MeanLatency:      r.MeanLatencySeconds(),
			ScoreValue:       r.Score(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID < out[j].ClientID
	})

	return out
}
