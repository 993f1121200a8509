// Package round implements the round lifecycle state machine and the
// client assignment bookkeeping.
package round

import (
	"sort"
	"time"

	"github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/flotilla/pkg/fl"
)

type State string

const (
	StateOpen        State = "OPEN"
	StateCollecting  State = "COLLECTING"
	StateAggregating State = "AGGREGATING"
	StateClosed      State = "CLOSED"
)

// ReasonAggregationFailed marks rounds closed without a new version.
const ReasonAggregationFailed = "aggregation_failed"

// Round tracks one unit of global training. Assignment and receipt
// sets satisfy received ⊆ assigned at all times.
type Round struct {
	ID           uint64
	InputVersion string
	State        State
	Assigned     map[string]struct{}
	Received     map[string]fl.Update
	CreatedAt    time.Time
	ClosedAt     time.Time
	NewVersion   string
	FailReason   string
}

// Status is the read-only view served to clients.
type Status struct {
	RoundID      uint64    `json:"round_id"`
	ModelVersion string    `json:"model_version"`
	State        State     `json:"state"`
	Assigned     []string  `json:"assigned"`
	Received     []string  `json:"received"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     time.Time `json:"closed_at,omitzero"`
	NewVersion   string    `json:"new_model_version,omitempty"`
	FailReason   string    `json:"failure_reason,omitempty"`
}

// Manager owns the rounds mapping and the registered-client set. Not
// safe for concurrent use on its own; callers serialize access.
type Manager struct {
	clients     map[string]struct{}
	rounds      map[uint64]*Round
	assignments map[string]uint64
	current     uint64
	nextID      uint64
	now         func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		clients:     make(map[string]struct{}),
		rounds:      make(map[uint64]*Round),
		assignments: make(map[string]uint64),
		nextID:      1,
		now:         time.Now,
	}
}

// Register adds a client to the registered set.
func (m *Manager) Register(clientID string) error {
	if clientID == "" {
		return errors.ErrEmptyKey
	}
	if _, ok := m.clients[clientID]; ok {
		return errors.ErrDuplicateClient
	}
	m.clients[clientID] = struct{}{}

	return nil
}

func (m *Manager) IsRegistered(clientID string) bool {
	_, ok := m.clients[clientID]

	return ok
}

// Open creates the next round against inputVersion. Exactly one round
// is OPEN or COLLECTING at any time, so opening while the current
// round is still live is a programming error surfaced as a no-op.
func (m *Manager) Open(inputVersion string) *Round {
	if cur := m.rounds[m.current]; cur != nil && cur.State != StateClosed {
		return cur
	}

	r := &Round{
		ID:           m.nextID,
		InputVersion: inputVersion,
		State:        StateOpen,
		Assigned:     make(map[string]struct{}),
		Received:     make(map[string]fl.Update),
		CreatedAt:    m.now(),
	}
	m.rounds[r.ID] = r
	m.current = r.ID
	m.nextID++

	return r
}

// Current returns the latest round unless it is CLOSED. An
// AGGREGATING round is returned too; callers check its state.
func (m *Manager) Current() (*Round, bool) {
	r := m.rounds[m.current]
	if r == nil || r.State == StateClosed {
		return nil, false
	}

	return r, true
}

func (m *Manager) Get(roundID uint64) (*Round, bool) {
	r, ok := m.rounds[roundID]

	return r, ok
}

// Assign places a registered client into the current round. A client
// holding an open assignment gets the same round back; a client that
// already submitted waits for the round to close. The second return
// reports whether a fresh assignment was created.
func (m *Manager) Assign(clientID string) (*Round, bool, error) {
	if !m.IsRegistered(clientID) {
		return nil, false, errors.ErrUnknownClient
	}

	if roundID, ok := m.assignments[clientID]; ok {
		r := m.rounds[roundID]
		if r != nil && r.State != StateClosed {
			if _, submitted := r.Received[clientID]; submitted {
				return nil, false, errors.ErrNoTaskAvailable
			}
			if r.State == StateAggregating {
				return nil, false, errors.ErrNoTaskAvailable
			}

			return r, false, nil
		}
		delete(m.assignments, clientID)
	}

	r, ok := m.Current()
	if !ok {
		return nil, false, errors.ErrNoTaskAvailable
	}
	if r.State == StateAggregating {
		return nil, false, errors.ErrNoTaskAvailable
	}

	r.Assigned[clientID] = struct{}{}
	m.assignments[clientID] = r.ID
	if r.State == StateOpen {
		r.State = StateCollecting
	}

	return r, true, nil
}

// RecordUpdate buffers an accepted submission. The round must be
// COLLECTING and the client assigned to it without a prior receipt.
func (m *Manager) RecordUpdate(clientID string, roundID uint64, u fl.Update) error {
	r, ok := m.rounds[roundID]
	if !ok {
		return errors.ErrUnknownRound
	}
	if _, assigned := r.Assigned[clientID]; !assigned {
		return errors.ErrNoAssignment
	}
	if r.State != StateCollecting {
		return errors.ErrRoundNotCollecting
	}
	if _, dup := r.Received[clientID]; dup {
		return errors.ErrDuplicateUpdate
	}
	r.Received[clientID] = u

	return nil
}

// BeginAggregation moves the round to AGGREGATING and returns a
// snapshot of the received updates for computation outside the lock.
func (m *Manager) BeginAggregation(roundID uint64) ([]fl.Update, error) {
	r, ok := m.rounds[roundID]
	if !ok {
		return nil, errors.ErrUnknownRound
	}
	if r.State != StateCollecting {
		return nil, errors.ErrRoundNotCollecting
	}
	if len(r.Received) == 0 {
		return nil, errors.ErrNotReady
	}
	r.State = StateAggregating

	updates := make([]fl.Update, 0, len(r.Received))
	for _, u := range r.Received {
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].ClientID < updates[j].ClientID
	})

	return updates, nil
}

// Close finishes an AGGREGATING round. With newVersion set the round
// closed successfully; with failReason set it closed without a new
// model. Assignments of its clients are released and the buffered
// delta payloads dropped; the receipt set survives for status reads.
func (m *Manager) Close(roundID uint64, newVersion, failReason string) (*Round, error) {
	r, ok := m.rounds[roundID]
	if !ok {
		return nil, errors.ErrUnknownRound
	}
	if r.State != StateAggregating {
		return nil, errors.ErrRoundNotCollecting
	}
	r.State = StateClosed
	r.ClosedAt = m.now()
	r.NewVersion = newVersion
	r.FailReason = failReason

	for clientID := range r.Assigned {
		if m.assignments[clientID] == r.ID {
			delete(m.assignments, clientID)
		}
	}
	for clientID, u := range r.Received {
		u.Delta = fl.Delta{}
		r.Received[clientID] = u
	}

	return r, nil
}

// Stragglers lists clients assigned to the round without a receipt.
func (m *Manager) Stragglers(roundID uint64) []string {
	r, ok := m.rounds[roundID]
	if !ok {
		return nil
	}

	var out []string
	for clientID := range r.Assigned {
		if _, ok := r.Received[clientID]; !ok {
			out = append(out, clientID)
		}
	}
	sort.Strings(out)

	return out
}

// Status renders the read-only view of a round.
func (m *Manager) Status(roundID uint64) (Status, error) {
	r, ok := m.rounds[roundID]
	if !ok {
		return Status{}, errors.ErrUnknownRound
	}

	assigned := make([]string, 0, len(r.Assigned))
	for clientID := range r.Assigned {
		assigned = append(assigned, clientID)
	}
	sort.Strings(assigned)

	received := make([]string, 0, len(r.Received))
	for clientID := range r.Received {
		received = append(received, clientID)
	}
	sort.Strings(received)

	return Status{
		RoundID:      r.ID,
		ModelVersion: r.InputVersion,
		State:        r.State,
		Assigned:     assigned,
		Received:     received,
		CreatedAt:    r.CreatedAt,
		ClosedAt:     r.ClosedAt,
		NewVersion:   r.NewVersion,
		FailReason:   r.FailReason,
	}, nil
}
