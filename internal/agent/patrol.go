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

// PatrolConfig tunes one patrol unit. With Waypoints set the route is a
// circle of that many points over the store's patrol area, rebuilt when the
// area changes; otherwise Route is flown as given.
type PatrolConfig struct {
	Route       []swarm.Position
	Waypoints   int
	Start       int
	Speed       float64
	Hover       time.Duration
	MoveTimeout time.Duration
	Retry       Retry
}

// Patrol flies a cyclic waypoint route: take off, then cruise to each
// waypoint and hover there before moving on. It lands when ctx ends.
type Patrol struct {
	pilot
	cfg   PatrolConfig
	route []swarm.Position
	rev   uint64
}

// NewPatrol creates the controller for a registered patrol agent.
func NewPatrol(id string, home swarm.Position, store *swarm.Store, fl link.FlightLink, c clock.Clock, cfg PatrolConfig) *Patrol {
	return &Patrol{
		pilot: pilot{
			id:          id,
			store:       store,
			link:        fl,
			clock:       c,
			moveTimeout: cfg.MoveTimeout,
			status:      swarm.StatusInitializing,
			pos:         home,
		},
		cfg: cfg,
	}
}

// Run drives the patrol until ctx is done.
func (p *Patrol) Run(ctx context.Context) error {
	ctx, log := logging.With(ctx, "agent_id", p.id, "role", swarm.RolePatrol)
	route := p.currentRoute(ctx)
	if len(route) == 0 {
		return errors.New("patrol route has no waypoints")
	}
	p.report(ctx, PhaseInit)

	takeoff := swarm.Position{X: p.pos.X, Y: p.pos.Y, Z: route[0].Z}
	if err := p.fly(ctx, PhaseTakeOff, takeoff, p.cfg.Speed, p.cfg.Retry); err != nil {
		p.land(ctx, p.cfg.Speed)
		return nil
	}
	log.Info("patrol airborne", "waypoints", len(route), "start", p.cfg.Start)

	n := len(route)
	i := ((p.cfg.Start % n) + n) % n
	for {
		route = p.currentRoute(ctx)
		wp := route[i%len(route)]
		if err := p.fly(ctx, PhaseCruise, wp, p.cfg.Speed, p.cfg.Retry); err != nil {
			break
		}
		p.report(ctx, PhaseHover)
		log.Debug("hovering", "waypoint", i)
		if err := clock.Sleep(ctx, p.clock, p.cfg.Hover); err != nil {
			break
		}
		i = (i + 1) % len(route)
	}
	p.land(ctx, p.cfg.Speed)
	return nil
}

// currentRoute returns the route for the next cruise leg.
func (p *Patrol) currentRoute(ctx context.Context) []swarm.Position {
	if p.cfg.Waypoints <= 0 {
		return p.cfg.Route
	}
	area := p.store.PatrolArea()
	if p.route != nil && area.Revision == p.rev {
		return p.route
	}
	if p.route != nil {
		logging.FromContext(ctx).Info("patrol area changed", "x", area.Center.X, "y", area.Center.Y, "radius", area.Radius)
	}
	p.rev = area.Revision
	p.route = Circle{Center: area.Center, Radius: area.Radius, Altitude: area.Altitude, Count: p.cfg.Waypoints}.Waypoints()
	return p.route
}
