// Package agent holds the per-role controllers. Each controller drives one
// vehicle through the flight link and talks to the rest of the swarm only
// through the state store.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"hiveops/internal/clock"
	"hiveops/internal/link"
	"hiveops/internal/logging"
	"hiveops/internal/swarm"
)

// Phase is the controller state reported alongside the agent status.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseTakeOff    Phase = "takeoff"
	PhaseCruise     Phase = "cruise"
	PhaseHover      Phase = "hover"
	PhaseScan       Phase = "scan"
	PhaseLand       Phase = "land"
	PhaseTerminated Phase = "terminated"

	PhaseStandby  Phase = "standby"
	PhaseArming   Phase = "arming"
	PhaseEngaging Phase = "engaging"
	PhaseImpacted Phase = "impacted"
	PhaseAborted  Phase = "aborted"
)

// landTimeout bounds the landing issued after shutdown.
const landTimeout = 30 * time.Second

// Retry is a capped exponential backoff with a bounded attempt count.
type Retry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Do runs op until it succeeds, ctx ends or the attempts run out, sleeping
// on c between attempts.
func (r Retry) Do(ctx context.Context, c clock.Clock, op func(context.Context) error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval: r.Initial,
		Multiplier:      2,
		MaxInterval:     r.Max,
	}
	b.Reset()
	attempts := max(r.Attempts, 1)
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= attempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		wait := b.NextBackOff()
		logging.FromContext(ctx).Warn("move failed, retrying", "attempt", attempt, "backoff", wait, "err", err)
		if err := clock.Sleep(ctx, c, wait); err != nil {
			return err
		}
	}
}

// pilot is the part every controller shares: the vehicle, its last known
// position and the status it reports.
type pilot struct {
	id          string
	store       *swarm.Store
	link        link.FlightLink
	clock       clock.Clock
	moveTimeout time.Duration

	status swarm.AgentStatus
	phase  Phase
	pos    swarm.Position
}

func (p *pilot) report(ctx context.Context, phase Phase) {
	p.phase = phase
	if err := p.store.Report(p.id, p.pos, p.status, string(phase)); err != nil {
		logging.FromContext(ctx).Error("state report failed", "err", err)
	}
}

// locate refreshes the last known position, keeping fallback when the
// link cannot answer.
func (p *pilot) locate(ctx context.Context, fallback swarm.Position) {
	pos, err := p.link.GetPosition(ctx, p.id)
	if err != nil {
		logging.FromContext(ctx).Debug("position unavailable", "err", err)
		p.pos = fallback
		return
	}
	p.pos = pos
}

// move issues one movement command bounded by timeout on the pilot's clock.
func (p *pilot) move(ctx context.Context, target swarm.Position, speed float64, timeout time.Duration) error {
	mctx, cancel := clock.WithTimeout(ctx, p.clock, timeout)
	defer cancel()
	err := p.link.MoveTo(mctx, p.id, target, speed)
	if err != nil && clock.TimedOut(mctx) && ctx.Err() == nil {
		return link.Transient("move", p.id, link.ErrTimeout)
	}
	return err
}

// fly moves to target, retrying with backoff. When the attempts run out
// the agent is reported Degraded and the same target is tried again after
// the backoff cap. Only a ctx error ends it without arriving.
func (p *pilot) fly(ctx context.Context, phase Phase, target swarm.Position, speed float64, retry Retry) error {
	log := logging.FromContext(ctx)
	p.report(ctx, phase)
	for {
		err := retry.Do(ctx, p.clock, func(ctx context.Context) error {
			return p.move(ctx, target, speed, p.moveTimeout)
		})
		if err == nil {
			if p.status == swarm.StatusDegraded {
				log.Info("link recovered", "phase", phase)
			}
			p.status = swarm.StatusActive
			p.locate(ctx, target)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.status != swarm.StatusDegraded {
			log.Warn("agent degraded, retrying current target", "phase", phase, "x", target.X, "y", target.Y, "err", err)
		}
		p.status = swarm.StatusDegraded
		p.locate(ctx, p.pos)
		p.report(ctx, phase)
		if err := clock.Sleep(ctx, p.clock, retry.Max); err != nil {
			return err
		}
	}
}

// land brings the vehicle down below its last position and reports it
// Terminated. It runs after ctx is cancelled.
func (p *pilot) land(ctx context.Context, speed float64) {
	ctx = context.WithoutCancel(ctx)
	lctx, cancel := clock.WithTimeout(ctx, p.clock, landTimeout)
	defer cancel()
	p.report(ctx, PhaseLand)
	ground := swarm.Position{X: p.pos.X, Y: p.pos.Y}
	if err := p.link.MoveTo(lctx, p.id, ground, speed); err != nil {
		logging.FromContext(ctx).Warn("landing failed", "err", err)
	} else {
		p.pos = ground
	}
	p.terminate(ctx)
}

func (p *pilot) terminate(ctx context.Context) {
	p.status = swarm.StatusTerminated
	p.report(ctx, PhaseTerminated)
	logging.FromContext(ctx).Info("agent terminated")
}
