package swarm

import (
	"fmt"
	"time"
)

// ledger is the threat ledger. Threats are kept in detection order and never
// removed. Callers hold Store.mu.
type ledger struct {
	nextID  uint64
	threats []*ThreatRecord
	byID    map[uint64]*ThreatRecord
}

func newLedger() ledger {
	return ledger{nextID: 1, byID: make(map[uint64]*ThreatRecord)}
}

func (l *ledger) get(id uint64) (*ThreatRecord, bool) {
	t, ok := l.byID[id]
	return t, ok
}

func (l *ledger) append(c Candidate) *ThreatRecord {
	t := &ThreatRecord{
		ID:            l.nextID,
		ObjectClass:   c.ObjectClass,
		Confidence:    c.Confidence,
		WorldPosition: c.WorldPosition,
		SourceAgentID: c.SourceAgentID,
		DetectedAt:    c.DetectedAt,
		State:         ThreatDetected,
		History:       []Transition{{State: ThreatDetected, At: c.DetectedAt}},
	}
	l.nextID++
	l.threats = append(l.threats, t)
	l.byID[t.ID] = t
	return t
}

// duplicateOf finds an active threat from the same source within radius
// meters that was detected no more than window before c.
func (l *ledger) duplicateOf(c Candidate, radius float64, window time.Duration) (*ThreatRecord, bool) {
	for i := len(l.threats) - 1; i >= 0; i-- {
		t := l.threats[i]
		if !t.State.active() || t.SourceAgentID != c.SourceAgentID {
			continue
		}
		if c.DetectedAt.Sub(t.DetectedAt) > window {
			continue
		}
		if t.WorldPosition.Distance(c.WorldPosition) <= radius {
			return t, true
		}
	}
	return nil, false
}

func (l *ledger) transition(t *ThreatRecord, to ThreatState, at time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("threat %d %s -> %s: %w", t.ID, t.State, to, ErrInvalidTransition)
	}
	t.State = to
	t.History = append(t.History, Transition{State: to, At: at})
	return nil
}

// inState returns threats in state s in detection order.
func (l *ledger) inState(s ThreatState) []*ThreatRecord {
	var out []*ThreatRecord
	for _, t := range l.threats {
		if t.State == s {
			out = append(out, t)
		}
	}
	return out
}

func (l *ledger) list() []ThreatRecord {
	out := make([]ThreatRecord, 0, len(l.threats))
	for _, t := range l.threats {
		out = append(out, t.clone())
	}
	return out
}

// enteredAt returns when t entered its current state.
func enteredAt(t *ThreatRecord) time.Time {
	if len(t.History) == 0 {
		return t.DetectedAt
	}
	return t.History[len(t.History)-1].At
}
