package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
)

// RoundSnapshot is the per-round metrics view. It is persisted to
// metrics/round_<N>.json once the round closes.
type RoundSnapshot struct {
	RoundID             uint64         `json:"round_id"`
	ModelVersion        string         `json:"model_version"`
	ClientsAssigned     int            `json:"clients_assigned"`
	UpdatesReceived     int            `json:"updates_received"`
	UpdatesRejected     int            `json:"updates_rejected"`
	RejectedByReason    map[string]int `json:"updates_rejected_by_reason"`
	RoundStartedAt      time.Time      `json:"round_started_at"`
	RoundClosedAt       time.Time      `json:"round_closed_at,omitzero"`
	AggregationDuration float64        `json:"aggregation_duration_seconds"`
	Stragglers          []string       `json:"stragglers"`
}

// GlobalCounters aggregate across all rounds.
type GlobalCounters struct {
	RoundsCompleted uint64 `json:"rounds_completed"`
	RoundsFailed    uint64 `json:"rounds_failed"`
	UpdatesAccepted uint64 `json:"updates_accepted"`
	UpdatesRejected uint64 `json:"updates_rejected"`
	ClientsSeen     int    `json:"clients_seen"`
}

// Metrics keeps per-round snapshots in memory plus global counters.
// Disk writes are best-effort and run outside the coordinator lock.
type Metrics struct {
	metricsDir string
	logsDir    string

	rounds  map[uint64]*RoundSnapshot
	global  GlobalCounters
	clients map[string]struct{}
	latest  uint64

	aggStart map[uint64]time.Time
	now      func() time.Time
}

func NewMetrics(metricsDir, logsDir string) (*Metrics, error) {
	if err := os.MkdirAll(metricsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	return &Metrics{
		metricsDir: metricsDir,
		logsDir:    logsDir,
		rounds:     make(map[uint64]*RoundSnapshot),
		clients:    make(map[string]struct{}),
		aggStart:   make(map[uint64]time.Time),
		now:        time.Now,
	}, nil
}

func (m *Metrics) RoundStarted(roundID uint64, modelVersion string) {
	m.rounds[roundID] = &RoundSnapshot{
		RoundID:          roundID,
		ModelVersion:     modelVersion,
		RejectedByReason: make(map[string]int),
		RoundStartedAt:   m.now(),
		Stragglers:       []string{},
	}
	if roundID > m.latest {
		m.latest = roundID
	}
}

func (m *Metrics) ClientAssigned(roundID uint64, clientID string) {
	if s, ok := m.rounds[roundID]; ok {
		s.ClientsAssigned++
	}
	if _, ok := m.clients[clientID]; !ok {
		m.clients[clientID] = struct{}{}
		m.global.ClientsSeen++
	}
}

func (m *Metrics) UpdateAccepted(roundID uint64) {
	if s, ok := m.rounds[roundID]; ok {
		s.UpdatesReceived++
	}
	m.global.UpdatesAccepted++
}

func (m *Metrics) UpdateRejected(roundID uint64, reason string) {
	if s, ok := m.rounds[roundID]; ok {
		s.UpdatesRejected++
		s.RejectedByReason[reason]++
	}
	m.global.UpdatesRejected++
}

func (m *Metrics) AggregationStarted(roundID uint64) {
	m.aggStart[roundID] = m.now()
}

// RoundClosed stamps the snapshot and returns a copy for best-effort
// persistence by the caller.
func (m *Metrics) RoundClosed(roundID uint64, stragglers []string, failed bool) (RoundSnapshot, bool) {
	s, ok := m.rounds[roundID]
	if !ok {
		return RoundSnapshot{}, false
	}
	s.RoundClosedAt = m.now()
	if started, ok := m.aggStart[roundID]; ok {
		s.AggregationDuration = m.now().Sub(started).Seconds()
		delete(m.aggStart, roundID)
	}
	if stragglers == nil {
		stragglers = []string{}
	}
	sort.Strings(stragglers)
	s.Stragglers = stragglers
	if failed {
		m.global.RoundsFailed++
	} else {
		m.global.RoundsCompleted++
	}

	return *s, true
}

func (m *Metrics) Get(roundID uint64) (RoundSnapshot, error) {
	s, ok := m.rounds[roundID]
	if !ok {
		return RoundSnapshot{}, errors.ErrUnknownRound
	}

	return *s, nil
}

func (m *Metrics) Latest() (RoundSnapshot, error) {
	return m.Get(m.latest)
}

func (m *Metrics) All() []RoundSnapshot {
	out := make([]RoundSnapshot, 0, len(m.rounds))
	for _, s := range m.rounds {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RoundID < out[j].RoundID
	})

	return out
}

func (m *Metrics) Global() GlobalCounters {
	return m.global
}

// Persist writes the snapshot JSON and appends the human-readable
// round summary. Failures are returned for logging only; they never
// block aggregation.
func (m *Metrics) Persist(s RoundSnapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	file := filepath.Join(m.metricsDir, fmt.Sprintf("round_%d.json", s.RoundID))
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(m.logsDir, "rounds.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "[%s] Round %d (model %s)\n", s.RoundClosedAt.UTC().Format(time.RFC3339), s.RoundID, s.ModelVersion)
	fmt.Fprintf(f, "  clients assigned: %d\n", s.ClientsAssigned)
	fmt.Fprintf(f, "  updates received: %d\n", s.UpdatesReceived)
	fmt.Fprintf(f, "  updates rejected: %d\n", s.UpdatesRejected)
	fmt.Fprintf(f, "  stragglers: %d\n", len(s.Stragglers))
	fmt.Fprintf(f, "  aggregation: %.2fs\n\n", s.AggregationDuration)

	return nil
}
