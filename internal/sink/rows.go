// Row types written to telemetry sinks
package sink

import (
	"os"
	"time"

	"hiveops/internal/swarm"
)

// AgentRow is one agent telemetry sample.
type AgentRow struct {
	MissionID string    `json:"mission_id"` // TAG
	AgentID   string    `json:"agent_id"`   // TAG
	Role      string    `json:"role"`       // TAG
	X         float64   `json:"x"`          // FIELD
	Y         float64   `json:"y"`          // FIELD
	Z         float64   `json:"z"`          // FIELD
	Status    string    `json:"status"`     // FIELD
	Phase     string    `json:"phase"`      // FIELD
	Timestamp time.Time `json:"ts"`         // TIME INDEX
}

// EventRow is one committed store change.
type EventRow struct {
	MissionID   string    `json:"mission_id"` // TAG
	Kind        string    `json:"kind"`       // TAG
	Seq         uint64    `json:"seq"`
	ThreatID    uint64    `json:"threat_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	ObjectClass string    `json:"object_class,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Z           float64   `json:"z"`
	Timestamp   time.Time `json:"ts"` // TIME INDEX
}

// AgentTableName defaults to "swarm_agents", overridden by AGENT_TABLE.
var AgentTableName = func() string {
	if env := os.Getenv("AGENT_TABLE"); env != "" {
		return env
	}
	return "swarm_agents"
}()

// EventTableName defaults to "swarm_events", overridden by THREAT_EVENT_TABLE.
var EventTableName = func() string {
	if env := os.Getenv("THREAT_EVENT_TABLE"); env != "" {
		return env
	}
	return "swarm_events"
}()

// AgentRows flattens the registry in snap into telemetry rows stamped at.
// Snapshots are reused while the store is unchanged, so callers stamp rows
// with the publish time rather than snap.TakenAt.
func AgentRows(missionID string, snap *swarm.Snapshot, at time.Time) []AgentRow {
	rows := make([]AgentRow, 0, len(snap.Agents))
	for _, a := range snap.Agents {
		rows = append(rows, AgentRow{
			MissionID: missionID,
			AgentID:   a.ID,
			Role:      string(a.Role),
			X:         a.Position.X,
			Y:         a.Position.Y,
			Z:         a.Position.Z,
			Status:    string(a.Status),
			Phase:     a.Phase,
			Timestamp: at,
		})
	}
	return rows
}

// EventRowFrom converts a store event.
func EventRowFrom(missionID string, e swarm.Event) EventRow {
	return EventRow{
		MissionID:   missionID,
		Kind:        string(e.Kind),
		Seq:         e.Seq,
		ThreatID:    e.ThreatID,
		AgentID:     e.AgentID,
		From:        e.From,
		To:          e.To,
		ObjectClass: e.ObjectClass,
		Confidence:  e.Confidence,
		X:           e.Position.X,
		Y:           e.Position.Y,
		Z:           e.Position.Z,
		Timestamp:   e.At,
	}
}
