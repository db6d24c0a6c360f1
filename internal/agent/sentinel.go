package agent

import (
	"context"
	"errors"
	"time"

	"hiveops/internal/clock"
	"hiveops/internal/gate"
	"hiveops/internal/link"
	"hiveops/internal/logging"
	"hiveops/internal/swarm"
)

// DefaultThreatClasses are the object classes reported as threats when no
// class filter is configured.
var DefaultThreatClasses = []string{"person", "car", "bus", "truck", "motorcycle"}

// SentinelConfig tunes the sentinel.
type SentinelConfig struct {
	Station     swarm.Position
	Speed       float64
	Interval    time.Duration
	Threshold   float64
	Classes     []string
	MoveTimeout time.Duration
	Retry       Retry
}

// Sentinel holds a command station and turns patrol imagery into threat
// candidates for the authorization gate.
type Sentinel struct {
	pilot
	cfg      SentinelConfig
	gate     *gate.Gate
	detector link.Detector
	classes  map[string]bool
	// scales caches pixels-per-meter by image width. It belongs to this
	// instance alone.
	scales map[int]float64
}

// NewSentinel creates the controller for a registered sentinel agent.
func NewSentinel(id string, home swarm.Position, store *swarm.Store, g *gate.Gate, fl link.FlightLink, det link.Detector, c clock.Clock, cfg SentinelConfig) *Sentinel {
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = DefaultThreatClasses
	}
	allowed := make(map[string]bool, len(classes))
	for _, cl := range classes {
		allowed[cl] = true
	}
	return &Sentinel{
		pilot: pilot{
			id:          id,
			store:       store,
			link:        fl,
			clock:       c,
			moveTimeout: cfg.MoveTimeout,
			status:      swarm.StatusInitializing,
			pos:         home,
		},
		cfg:      cfg,
		gate:     g,
		detector: det,
		classes:  allowed,
		scales:   make(map[int]float64),
	}
}

// Run takes the sentinel to its station and scans on every tick until ctx
// is done.
func (s *Sentinel) Run(ctx context.Context) error {
	ctx, log := logging.With(ctx, "agent_id", s.id, "role", swarm.RoleSentinel)
	s.report(ctx, PhaseInit)
	if err := s.fly(ctx, PhaseTakeOff, s.cfg.Station, s.cfg.Speed, s.cfg.Retry); err != nil {
		s.land(ctx, s.cfg.Speed)
		return nil
	}
	s.report(ctx, PhaseScan)
	log.Info("sentinel on station", "threshold", s.cfg.Threshold, "interval", s.cfg.Interval)
	for clock.Sleep(ctx, s.clock, s.cfg.Interval) == nil {
		s.Scan(ctx)
	}
	s.land(ctx, s.cfg.Speed)
	return nil
}

// Scan visits every live patrol unit once, in registration order, and
// submits qualifying detections. It returns the number of new threats.
func (s *Sentinel) Scan(ctx context.Context) int {
	log := logging.FromContext(ctx)
	submitted := 0
	for _, unit := range s.store.Snapshot().AgentsWithRole(swarm.RolePatrol) {
		if unit.Status == swarm.StatusTerminated {
			continue
		}
		if ctx.Err() != nil {
			return submitted
		}
		frame, err := s.link.GetImage(ctx, unit.ID)
		if err != nil {
			log.Warn("frame unavailable", "patrol", unit.ID, "err", err)
			continue
		}
		dets, err := s.detector.Infer(ctx, frame, s.cfg.Threshold)
		if err != nil {
			log.Warn("detection failed", "patrol", unit.ID, "err", err)
			continue
		}
		for _, d := range dets {
			if d.Confidence < s.cfg.Threshold || !s.classes[d.Class] {
				continue
			}
			pos := link.ImageToWorld(frame.Pose, frame.Width, frame.Height, s.scale(frame.Width), d.Box)
			_, err := s.gate.Submit(ctx, swarm.Candidate{
				ObjectClass:   d.Class,
				Confidence:    d.Confidence,
				WorldPosition: pos,
				SourceAgentID: unit.ID,
				DetectedAt:    frame.CapturedAt,
			})
			switch {
			case err == nil:
				submitted++
			case errors.Is(err, swarm.ErrDuplicateCandidate):
				log.Debug("duplicate candidate", "patrol", unit.ID, "class", d.Class)
			default:
				log.Warn("candidate rejected", "patrol", unit.ID, "class", d.Class, "err", err)
			}
		}
	}
	return submitted
}

func (s *Sentinel) scale(width int) float64 {
	if v, ok := s.scales[width]; ok {
		return v
	}
	v := link.PixelScale(width)
	s.scales[width] = v
	return v
}
