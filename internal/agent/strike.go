package agent

import (
	"context"
	"errors"
	"time"

	"hiveops/internal/clock"
	"hiveops/internal/link"
	"hiveops/internal/logging"
	"hiveops/internal/swarm"
)

// StrikeConfig tunes one strike unit.
type StrikeConfig struct {
	Speed             float64
	Arming            time.Duration
	EngagementTimeout time.Duration
	AbortCooldown     time.Duration
}

// Strike waits in standby for an assignment from the pool, then arms and
// engages the assigned threat. It is reusable: every engagement ends back
// in standby.
type Strike struct {
	pilot
	cfg StrikeConfig
}

// NewStrike creates the controller for a registered strike agent.
func NewStrike(id string, home swarm.Position, store *swarm.Store, fl link.FlightLink, c clock.Clock, cfg StrikeConfig) *Strike {
	return &Strike{
		pilot: pilot{
			id:     id,
			store:  store,
			link:   fl,
			clock:  c,
			status: swarm.StatusInitializing,
			pos:    home,
		},
		cfg: cfg,
	}
}

// Run waits for assignments until ctx is done.
func (s *Strike) Run(ctx context.Context) error {
	ctx, log := logging.With(ctx, "agent_id", s.id, "role", swarm.RoleStrike)
	wake := s.store.Assignments(s.id)
	s.status = swarm.StatusActive
	s.report(ctx, PhaseStandby)
	log.Info("strike unit standing by")
	for ctx.Err() == nil {
		slot, threat, ok := s.store.CurrentAssignment(s.id)
		if !ok {
			select {
			case <-ctx.Done():
			case <-wake:
			}
			continue
		}
		if slot.Status == swarm.SlotEngaging {
			// left over from an interrupted engagement
			s.release(ctx, swarm.OutcomeAborted)
			continue
		}
		s.engage(ctx, threat)
	}
	s.terminate(context.WithoutCancel(ctx))
	return nil
}

// engage runs Arming -> Engaging -> Impacted, or ends in Aborted when the
// assignment is withdrawn during arming or the movement fails.
func (s *Strike) engage(ctx context.Context, threat swarm.ThreatRecord) {
	ctx, log := logging.With(ctx, "threat_id", threat.ID)
	log.Info("assignment received", "class", threat.ObjectClass, "x", threat.WorldPosition.X, "y", threat.WorldPosition.Y)
	s.report(ctx, PhaseArming)
	if err := clock.Sleep(ctx, s.clock, s.cfg.Arming); err != nil {
		s.releaseThreat(ctx, threat.ID, swarm.OutcomeAborted)
		return
	}
	if _, err := s.store.BeginEngagement(s.id, threat.ID); err != nil {
		log.Info("assignment withdrawn before engagement", "err", err)
		s.report(ctx, PhaseAborted)
		s.report(ctx, PhaseStandby)
		return
	}

	s.report(ctx, PhaseEngaging)
	ectx, cancel := clock.WithTimeout(ctx, s.clock, s.cfg.EngagementTimeout)
	err := s.link.MoveTo(ectx, s.id, threat.WorldPosition, s.cfg.Speed)
	timedOut := clock.TimedOut(ectx)
	cancel()

	switch {
	case err == nil || (timedOut && ctx.Err() == nil):
		s.status = swarm.StatusActive
		s.locate(ctx, threat.WorldPosition)
		s.report(ctx, PhaseImpacted)
		s.releaseThreat(ctx, threat.ID, swarm.OutcomeCompleted)
		log.Info("engagement complete", "timed_out", timedOut)
	case ctx.Err() != nil:
		s.releaseThreat(ctx, threat.ID, swarm.OutcomeAborted)
		return
	default:
		log.Warn("engagement aborted, threat returned to queue", "err", err)
		s.status = swarm.StatusDegraded
		s.locate(ctx, s.pos)
		s.report(ctx, PhaseAborted)
		s.releaseThreat(ctx, threat.ID, swarm.OutcomeAborted)
		if clock.Sleep(ctx, s.clock, s.cfg.AbortCooldown) != nil {
			return
		}
		if n := s.store.AssignBacklog(); n > 0 {
			log.Info("backlog reassigned after cooldown", "assigned", n)
		}
	}
	s.report(ctx, PhaseStandby)
}

func (s *Strike) release(ctx context.Context, outcome swarm.Outcome) {
	if err := s.store.Release(s.id, outcome); err != nil {
		logging.FromContext(ctx).Error("release failed", "outcome", outcome, "err", err)
	}
}

// releaseThreat releases the slot only while it still holds threatID, so a
// threat assigned after a revoke is never charged for this unit's abort.
func (s *Strike) releaseThreat(ctx context.Context, threatID uint64, outcome swarm.Outcome) {
	err := s.store.ReleaseThreat(s.id, threatID, outcome)
	switch {
	case err == nil:
	case errors.Is(err, swarm.ErrInvalidTransition):
		logging.FromContext(ctx).Info("assignment changed, nothing to release", "outcome", outcome, "err", err)
	default:
		logging.FromContext(ctx).Error("release failed", "outcome", outcome, "err", err)
	}
}
