package swarm

import "time"

// EventKind tags what an Event describes.
type EventKind string

const (
	EventThreat EventKind = "threat"
	EventSlot   EventKind = "slot"
	EventAgent  EventKind = "agent"
	EventPatrol EventKind = "patrol"
)

// Event is a committed change: a threat state transition, a slot status
// change, an agent status change or a new patrol area. Seq gives the total order of changes.
type Event struct {
	Seq         uint64    `json:"seq"`
	Kind        EventKind `json:"kind"`
	At          time.Time `json:"ts"`
	ThreatID    uint64    `json:"threat_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	ObjectClass string    `json:"object_class,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Position    Position  `json:"position"`
}

func threatEvent(t *ThreatRecord, from ThreatState) Event {
	return Event{
		Kind:        EventThreat,
		ThreatID:    t.ID,
		AgentID:     t.AssignedSlot,
		From:        string(from),
		To:          string(t.State),
		ObjectClass: t.ObjectClass,
		Confidence:  t.Confidence,
		Position:    t.WorldPosition,
	}
}
