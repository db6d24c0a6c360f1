package scenario

import (
	"context"
	"time"

	"hiveops/internal/clock"
	"hiveops/internal/logging"
	"hiveops/internal/swarm"
)

// Spawner adds ground objects to the world and returns their ids.
type Spawner interface {
	AddObject(class string, pos swarm.Position) string
}

// Runner plays a scenario against a world. Trigger values count from the
// moment the current phase was entered.
type Runner struct {
	sc       *Scenario
	spawner  Spawner
	clock    clock.Clock
	executed func() int

	phase        string
	enteredAt    time.Time
	executedBase int
	started      bool
}

// NewRunner creates a runner. executed reports the number of threats
// executed so far.
func NewRunner(sc *Scenario, sp Spawner, c clock.Clock, executed func() int) *Runner {
	if c == nil {
		c = clock.Real{}
	}
	return &Runner{sc: sc, spawner: sp, clock: c, executed: executed}
}

// Phase returns the current phase name, empty before Start.
func (r *Runner) Phase() string { return r.phase }

// Start enters the first phase.
func (r *Runner) Start(ctx context.Context) {
	if r.started || len(r.sc.Phases) == 0 {
		return
	}
	r.started = true
	r.enter(ctx, r.sc.Phases[0])
}

// Advance evaluates the current phase's triggers once and reports whether
// the phase changed.
func (r *Runner) Advance(ctx context.Context) bool {
	if !r.started {
		r.Start(ctx)
	}
	events := []Event{
		{Type: EventTimeElapsed, Value: int(r.clock.Now().Sub(r.enteredAt) / time.Second)},
		{Type: EventThreatsExecuted, Value: r.executed() - r.executedBase},
	}
	for _, ev := range events {
		next, ok := r.sc.NextPhase(r.phase, ev)
		if !ok {
			continue
		}
		p, _ := r.sc.Phase(next)
		r.enter(ctx, p)
		return true
	}
	return false
}

func (r *Runner) enter(ctx context.Context, p Phase) {
	log := logging.FromContext(ctx)
	r.phase = p.Name
	r.enteredAt = r.clock.Now()
	r.executedBase = r.executed()
	ids := make([]string, 0, len(p.Spawns))
	for _, s := range p.Spawns {
		ids = append(ids, r.spawner.AddObject(s.Class, swarm.Position{X: s.X, Y: s.Y}))
	}
	log.Info("scenario phase", "scenario", r.sc.Name, "phase", p.Name, "spawned", ids)
}

// Run enters the first phase and evaluates triggers every interval until
// ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.Start(ctx)
	for clock.Sleep(ctx, r.clock, interval) == nil {
		r.Advance(ctx)
	}
	return nil
}
