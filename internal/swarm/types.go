package swarm

import (
	"math"
	"time"
)

// Role identifies what an agent does in the swarm.
type Role string

const (
	RoleSentinel Role = "sentinel"
	RolePatrol   Role = "patrol"
	RoleStrike   Role = "strike"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSentinel, RolePatrol, RoleStrike:
		return true
	}
	return false
}

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

const (
	StatusInitializing AgentStatus = "initializing"
	StatusActive       AgentStatus = "active"
	StatusDegraded     AgentStatus = "degraded"
	StatusTerminated   AgentStatus = "terminated"
)

// Position is a point in the local mission frame, in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the euclidean distance between p and q.
func (p Position) Distance(q Position) float64 {
	return math.Sqrt((p.X-q.X)*(p.X-q.X) + (p.Y-q.Y)*(p.Y-q.Y) + (p.Z-q.Z)*(p.Z-q.Z))
}

// AgentRecord is the registry entry for one agent.
type AgentRecord struct {
	ID            string      `json:"id"`
	Role          Role        `json:"role"`
	Position      Position    `json:"position"`
	Status        AgentStatus `json:"status"`
	Phase         string      `json:"phase,omitempty"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
}

// ThreatState is a position in the threat lifecycle lattice.
type ThreatState string

const (
	ThreatDetected             ThreatState = "detected"
	ThreatPendingAuthorization ThreatState = "pending_authorization"
	ThreatAuthorized           ThreatState = "authorized"
	ThreatAssigned             ThreatState = "assigned"
	ThreatExecuted             ThreatState = "executed"
	ThreatDismissed            ThreatState = "dismissed"
	ThreatExpired              ThreatState = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ThreatState) Terminal() bool {
	switch s {
	case ThreatExecuted, ThreatDismissed, ThreatExpired:
		return true
	}
	return false
}

// active threats take part in duplicate-candidate suppression.
func (s ThreatState) active() bool {
	switch s {
	case ThreatDetected, ThreatPendingAuthorization, ThreatAuthorized, ThreatAssigned:
		return true
	}
	return false
}

// transitions lists every allowed edge. assigned->authorized is the requeue
// after an aborted engagement.
var transitions = map[ThreatState][]ThreatState{
	ThreatDetected:             {ThreatPendingAuthorization},
	ThreatPendingAuthorization: {ThreatAuthorized, ThreatDismissed, ThreatExpired},
	ThreatAuthorized:           {ThreatAssigned, ThreatDismissed},
	ThreatAssigned:             {ThreatExecuted, ThreatAuthorized, ThreatDismissed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to ThreatState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records when a threat entered a state.
type Transition struct {
	State ThreatState `json:"state"`
	At    time.Time   `json:"at"`
}

// ThreatRecord is one entry in the threat ledger.
type ThreatRecord struct {
	ID            uint64       `json:"id"`
	ObjectClass   string       `json:"object_class"`
	Confidence    float64      `json:"confidence"`
	WorldPosition Position     `json:"world_position"`
	SourceAgentID string       `json:"source_agent_id"`
	DetectedAt    time.Time    `json:"detected_at"`
	State         ThreatState  `json:"state"`
	AssignedSlot  string       `json:"assigned_slot,omitempty"`
	Aborts        int          `json:"aborts,omitempty"`
	History       []Transition `json:"history"`
}

func (t ThreatRecord) clone() ThreatRecord {
	t.History = append([]Transition(nil), t.History...)
	return t
}

// Candidate is a detection the sentinel wants recorded as a threat.
type Candidate struct {
	ObjectClass   string
	Confidence    float64
	WorldPosition Position
	SourceAgentID string
	DetectedAt    time.Time
}

// SlotStatus is the state of a strike unit slot.
type SlotStatus string

const (
	SlotIdle     SlotStatus = "idle"
	SlotAssigned SlotStatus = "assigned"
	SlotEngaging SlotStatus = "engaging"
)

// StrikeUnitSlot tracks the assignment of one strike-capable agent.
type StrikeUnitSlot struct {
	AgentID          string     `json:"agent_id"`
	Status           SlotStatus `json:"status"`
	AssignedThreatID uint64     `json:"assigned_threat_id,omitempty"`
}

// Decision is an operator verdict on a pending threat.
type Decision string

const (
	DecisionAuthorize Decision = "authorize"
	DecisionDismiss   Decision = "dismiss"
)

// Outcome is how a strike unit finished its assignment.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
)

// DecisionResult reports what a decision did.
type DecisionResult struct {
	Threat ThreatRecord `json:"threat"`
	// SlotID is empty when the threat was dismissed or no unit was idle.
	SlotID string `json:"slot_id,omitempty"`
}

// Queued reports an authorized threat waiting for a free strike unit.
func (r DecisionResult) Queued() bool {
	return r.Threat.State == ThreatAuthorized && r.SlotID == ""
}

// PatrolArea is the circle patrol units fly. Revision grows with every change
// so controllers know when to rebuild their route.
type PatrolArea struct {
	Center   Position  `json:"center"`
	Radius   float64   `json:"radius"`
	Altitude float64   `json:"altitude"`
	Revision uint64    `json:"revision"`
	SetAt    time.Time `json:"set_at"`
}

// Snapshot is an immutable, consistent view of the store.
type Snapshot struct {
	Version uint64           `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Agents  []AgentRecord    `json:"agents"`
	Threats []ThreatRecord   `json:"threats"`
	Pool    []StrikeUnitSlot `json:"pool"`
	Patrol  PatrolArea       `json:"patrol"`
}

// Agent looks up an agent by id.
func (s *Snapshot) Agent(id string) (AgentRecord, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentRecord{}, false
}

// Threat looks up a threat by id.
func (s *Snapshot) Threat(id uint64) (ThreatRecord, bool) {
	for _, t := range s.Threats {
		if t.ID == id {
			return t, true
		}
	}
	return ThreatRecord{}, false
}

// ThreatsIn returns threats in the given state, oldest first.
func (s *Snapshot) ThreatsIn(state ThreatState) []ThreatRecord {
	var out []ThreatRecord
	for _, t := range s.Threats {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out
}

// AgentsWithRole returns agents of role r in registration order.
func (s *Snapshot) AgentsWithRole(r Role) []AgentRecord {
	var out []AgentRecord
	for _, a := range s.Agents {
		if a.Role == r {
			out = append(out, a)
		}
	}
	return out
}

// Backlog counts authorized threats waiting for a strike unit.
func (s *Snapshot) Backlog() int {
	return len(s.ThreatsIn(ThreatAuthorized))
}
