// YAML mission config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hiveops/internal/swarm"
)

// Vec is a position in the local mission frame, meters.
type Vec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Position converts v to a swarm position.
func (v Vec) Position() swarm.Position {
	return swarm.Position{X: v.X, Y: v.Y, Z: v.Z}
}

// Agent declares one vehicle and its role.
type Agent struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
	Home Vec    `yaml:"home"`
}

// Patrol is the shared patrol geometry and flight tuning.
type Patrol struct {
	Center                Vec     `yaml:"center"`
	Radius                float64 `yaml:"radius"`
	Altitude              float64 `yaml:"altitude"`
	WaypointCount         int     `yaml:"waypoint_count"`
	HoverSeconds          float64 `yaml:"hover_seconds"`
	Speed                 float64 `yaml:"speed"`
	MoveTimeoutSeconds    float64 `yaml:"move_timeout_seconds"`
	MaxAttempts           int     `yaml:"max_attempts"`
	BackoffInitialSeconds float64 `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds     float64 `yaml:"backoff_max_seconds"`
}

// Sentinel places the command station.
type Sentinel struct {
	StationAltitude float64 `yaml:"station_altitude"`
	Speed           float64 `yaml:"speed"`
}

// Detection tunes how frames become threat candidates.
type Detection struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	ClassFilter         []string `yaml:"class_filter"`
	PollIntervalSeconds float64  `yaml:"poll_interval_seconds"`
}

// Authorization sets the pending-decision lifetime. Zero disables expiry.
type Authorization struct {
	TTLSeconds float64 `yaml:"ttl_seconds"`
}

// Debounce sets duplicate-candidate suppression.
type Debounce struct {
	RadiusM       float64 `yaml:"radius_m"`
	WindowSeconds float64 `yaml:"window_seconds"`
}

// Strike tunes engagements.
type Strike struct {
	Speed                    float64 `yaml:"speed"`
	ArmingSeconds            float64 `yaml:"arming_seconds"`
	EngagementTimeoutSeconds float64 `yaml:"engagement_timeout_seconds"`
	AbortCooldownSeconds     float64 `yaml:"abort_cooldown_seconds"`
}

// Object seeds a ground object in the simulated world.
type Object struct {
	Class    string `yaml:"class"`
	Position Vec    `yaml:"position"`
}

// World configures the simulated flight link and detector.
type World struct {
	Seed                 int64    `yaml:"seed"`
	FailureRate          float64  `yaml:"failure_rate"`
	DetectionFailureRate float64  `yaml:"detection_failure_rate"`
	ImageWidth           int      `yaml:"image_width"`
	ImageHeight          int      `yaml:"image_height"`
	CameraRangeM         float64  `yaml:"camera_range_m"`
	BoundsM              float64  `yaml:"bounds_m"`
	StepSeconds          float64  `yaml:"step_seconds"`
	Objects              []Object `yaml:"objects"`

	// Scenario names a built-in arc or a scenario YAML file.
	Scenario string `yaml:"scenario"`
}

// SwarmConfig is the root mission configuration.
type SwarmConfig struct {
	MissionID                string        `yaml:"mission_id"`
	TelemetryIntervalSeconds float64       `yaml:"telemetry_interval_seconds"`
	Agents                   []Agent       `yaml:"agents"`
	Patrol                   Patrol        `yaml:"patrol"`
	Sentinel                 Sentinel      `yaml:"sentinel"`
	Detection                Detection     `yaml:"detection"`
	Authorization            Authorization `yaml:"authorization"`
	Debounce                 Debounce      `yaml:"debounce"`
	Strike                   Strike        `yaml:"strike"`
	World                    World         `yaml:"world"`
}

// Seconds converts a config value in seconds to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Default returns the mission defaults applied under every loaded file.
func Default() SwarmConfig {
	return SwarmConfig{
		MissionID:                "mission-01",
		TelemetryIntervalSeconds: 1,
		Patrol: Patrol{
			Radius:                30,
			Altitude:              15,
			WaypointCount:         6,
			HoverSeconds:          3,
			Speed:                 8,
			MoveTimeoutSeconds:    30,
			MaxAttempts:           3,
			BackoffInitialSeconds: 0.5,
			BackoffMaxSeconds:     4,
		},
		Sentinel:      Sentinel{StationAltitude: 30, Speed: 5},
		Detection:     Detection{ConfidenceThreshold: 0.5, PollIntervalSeconds: 1},
		Authorization: Authorization{TTLSeconds: 15},
		Debounce:      Debounce{RadiusM: swarm.DefaultDebounceRadius, WindowSeconds: swarm.DefaultDebounceWindow.Seconds()},
		Strike: Strike{
			Speed:                    10,
			ArmingSeconds:            1,
			EngagementTimeoutSeconds: 30,
			AbortCooldownSeconds:     2,
		},
		World: World{ImageWidth: 640, ImageHeight: 480, CameraRangeM: 40, BoundsM: 200, StepSeconds: 1},
	}
}

// Load validates the YAML file against the CUE schema, then decodes it
// over Default.
func Load(configPath, cueSchemaPath string) (*SwarmConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over Default and checks cross-field rules the schema
// cannot express.
func Parse(data []byte) (*SwarmConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Check enforces the rules that span more than one field.
func (c *SwarmConfig) Check() error {
	seen := make(map[string]bool, len(c.Agents))
	sentinels := 0
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		role := swarm.Role(a.Role)
		if !role.Valid() {
			return fmt.Errorf("agent %q: unknown role %q", a.ID, a.Role)
		}
		if role == swarm.RoleSentinel {
			sentinels++
		}
	}
	if sentinels == 0 {
		return fmt.Errorf("mission needs at least one sentinel")
	}
	if c.Patrol.WaypointCount < 1 {
		return fmt.Errorf("patrol.waypoint_count must be positive")
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold %.2f outside [0,1]", c.Detection.ConfidenceThreshold)
	}
	return nil
}

// AgentsWithRole returns the configured agents of role r in file order.
func (c *SwarmConfig) AgentsWithRole(r swarm.Role) []Agent {
	var out []Agent
	for _, a := range c.Agents {
		if swarm.Role(a.Role) == r {
			out = append(out, a)
		}
	}
	return out
}
