// Package mission assembles a swarm from configuration and runs it.
package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hiveops/internal/agent"
	"hiveops/internal/clock"
	"hiveops/internal/config"
	"hiveops/internal/gate"
	"hiveops/internal/link"
	"hiveops/internal/logging"
	"hiveops/internal/metrics"
	"hiveops/internal/scenario"
	"hiveops/internal/sink"
	"hiveops/internal/swarm"
	"hiveops/internal/world"
)

// Option configures a Mission.
type Option func(*Mission)

// WithClock overrides the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(m *Mission) { m.clock = c }
}

// WithLink replaces the simulated world with another flight link and detector.
func WithLink(fl link.FlightLink, det link.Detector) Option {
	return func(m *Mission) {
		m.link = fl
		m.detector = det
	}
}

// WithTelemetryWriter adds a sink for periodic agent telemetry.
func WithTelemetryWriter(w sink.TelemetryWriter) Option {
	return func(m *Mission) { m.telewriters = append(m.telewriters, w) }
}

// WithEventWriter adds a sink for store events.
func WithEventWriter(w sink.EventWriter) Option {
	return func(m *Mission) { m.evwriters = append(m.evwriters, w) }
}

// recentEvents is how many events Events keeps for the control surface.
const recentEvents = 500

type runner interface {
	Run(ctx context.Context) error
}

// Mission owns the store, the gate and one controller per configured agent.
type Mission struct {
	ID    string
	RunID string

	cfg      *config.SwarmConfig
	clock    clock.Clock
	store    *swarm.Store
	gate     *gate.Gate
	metrics  *metrics.Metrics
	world    *world.Sim
	scenario *scenario.Runner
	link     link.FlightLink
	detector link.Detector

	telewriters []sink.TelemetryWriter
	evwriters   []sink.EventWriter
	out         *sink.MultiWriter
	events      *sink.EventLog
	controllers []runner

	mu      sync.Mutex
	pending []sink.EventRow
}

// New builds a mission from cfg. Unless WithLink is given, agents fly in a
// simulated world seeded from cfg.World.
func New(cfg *config.SwarmConfig, opts ...Option) (*Mission, error) {
	m := &Mission{
		ID:      cfg.MissionID,
		RunID:   uuid.NewString(),
		cfg:     cfg,
		clock:   clock.Real{},
		metrics: metrics.New(),
		events:  sink.NewEventLog(recentEvents),
	}
	for _, o := range opts {
		o(m)
	}
	m.evwriters = append(m.evwriters, m.events)
	m.store = swarm.NewStore(
		swarm.WithClock(m.clock),
		swarm.WithDebounce(cfg.Debounce.RadiusM, config.Seconds(cfg.Debounce.WindowSeconds)),
		swarm.WithPatrolArea(cfg.Patrol.Center.Position(), cfg.Patrol.Radius, cfg.Patrol.Altitude),
		swarm.WithEventHandler(m.onEvents),
	)
	m.gate = gate.New(m.store,
		gate.WithClock(m.clock),
		gate.WithTTL(config.Seconds(cfg.Authorization.TTLSeconds)),
	)

	if m.link == nil {
		m.world = world.New(worldConfig(cfg.World), m.clock)
		m.link = m.world
		m.detector = world.NewDetector(cfg.World.Seed, cfg.World.DetectionFailureRate)
		if cfg.World.Scenario != "" {
			sc, err := scenario.Resolve(cfg.World.Scenario)
			if err != nil {
				return nil, err
			}
			m.scenario = scenario.NewRunner(sc, m.world, m.clock, m.executedCount)
		}
	}

	for _, a := range cfg.Agents {
		home := a.Home.Position()
		if err := m.store.RegisterAgent(a.ID, swarm.Role(a.Role), home); err != nil {
			return nil, fmt.Errorf("register %s: %w", a.ID, err)
		}
		if m.world != nil {
			m.world.AddVehicle(a.ID, home)
		}
	}
	m.controllers = m.buildControllers()
	return m, nil
}

func worldConfig(w config.World) world.Config {
	objs := make([]world.Object, 0, len(w.Objects))
	for _, o := range w.Objects {
		objs = append(objs, world.Object{Class: o.Class, Position: o.Position.Position()})
	}
	return world.Config{
		Seed:        w.Seed,
		FailureRate: w.FailureRate,
		ImageWidth:  w.ImageWidth,
		ImageHeight: w.ImageHeight,
		CameraRange: w.CameraRangeM,
		Bounds:      w.BoundsM,
		Objects:     objs,
	}
}

func (m *Mission) buildControllers() []runner {
	cfg := m.cfg
	retry := agent.Retry{
		Attempts: cfg.Patrol.MaxAttempts,
		Initial:  config.Seconds(cfg.Patrol.BackoffInitialSeconds),
		Max:      config.Seconds(cfg.Patrol.BackoffMaxSeconds),
	}
	moveTimeout := config.Seconds(cfg.Patrol.MoveTimeoutSeconds)
	var out []runner
	patrols := cfg.AgentsWithRole(swarm.RolePatrol)
	for k, a := range patrols {
		out = append(out, agent.NewPatrol(a.ID, a.Home.Position(), m.store, m.link, m.clock, agent.PatrolConfig{
			Waypoints:   cfg.Patrol.WaypointCount,
			Start:       agent.StaggeredStart(k, len(patrols), cfg.Patrol.WaypointCount),
			Speed:       cfg.Patrol.Speed,
			Hover:       config.Seconds(cfg.Patrol.HoverSeconds),
			MoveTimeout: moveTimeout,
			Retry:       retry,
		}))
	}
	for _, a := range cfg.AgentsWithRole(swarm.RoleSentinel) {
		station := a.Home.Position()
		station.Z = cfg.Sentinel.StationAltitude
		out = append(out, agent.NewSentinel(a.ID, a.Home.Position(), m.store, m.gate, m.link, m.detector, m.clock, agent.SentinelConfig{
			Station:     station,
			Speed:       cfg.Sentinel.Speed,
			Interval:    config.Seconds(cfg.Detection.PollIntervalSeconds),
			Threshold:   cfg.Detection.ConfidenceThreshold,
			Classes:     cfg.Detection.ClassFilter,
			MoveTimeout: moveTimeout,
			Retry:       retry,
		}))
	}
	for _, a := range cfg.AgentsWithRole(swarm.RoleStrike) {
		out = append(out, agent.NewStrike(a.ID, a.Home.Position(), m.store, m.link, m.clock, agent.StrikeConfig{
			Speed:             cfg.Strike.Speed,
			Arming:            config.Seconds(cfg.Strike.ArmingSeconds),
			EngagementTimeout: config.Seconds(cfg.Strike.EngagementTimeoutSeconds),
			AbortCooldown:     config.Seconds(cfg.Strike.AbortCooldownSeconds),
		}))
	}
	return out
}

func (m *Mission) executedCount() int {
	return len(m.store.Snapshot().ThreatsIn(swarm.ThreatExecuted))
}

// AddEventWriter adds an event sink after construction, for writers that
// need the store or gate. It must be called before Run.
func (m *Mission) AddEventWriter(w sink.EventWriter) {
	m.evwriters = append(m.evwriters, w)
}

// Store returns the shared swarm state.
func (m *Mission) Store() *swarm.Store { return m.store }

// Gate returns the authorization gate operators decide through.
func (m *Mission) Gate() *gate.Gate { return m.gate }

// Metrics returns the mission's Prometheus collectors.
func (m *Mission) Metrics() *metrics.Metrics { return m.metrics }

// Events returns the tail of published store events.
func (m *Mission) Events() *sink.EventLog { return m.events }

// World returns the simulated world, or nil when WithLink was used.
func (m *Mission) World() *world.Sim { return m.world }

// onEvents runs after every committed store change. Metrics are updated
// inline; sink writes are batched into the next flush.
func (m *Mission) onEvents(events []swarm.Event) {
	rows := make([]sink.EventRow, 0, len(events))
	for _, e := range events {
		row := sink.EventRowFrom(m.ID, e)
		_ = m.metrics.WriteEvent(row)
		rows = append(rows, row)
	}
	m.mu.Lock()
	m.pending = append(m.pending, rows...)
	m.mu.Unlock()
}

// Run starts every controller, the expiry sweep, the world and telemetry
// publishing as independent goroutines and blocks until ctx is done. Every
// agent is Terminated when Run returns.
func (m *Mission) Run(ctx context.Context) error {
	ctx, log := logging.With(ctx, "mission_id", m.ID, "run_id", m.RunID)
	log.Info("mission starting", "agents", len(m.cfg.Agents), "ttl", m.gate.TTL())
	m.out = sink.NewMultiWriter(m.telewriters, m.evwriters)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.controllers {
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error { return m.gate.Run(gctx) })
	if m.world != nil {
		step := config.Seconds(m.cfg.World.StepSeconds)
		g.Go(func() error { return m.world.Run(gctx, step) })
	}
	if m.scenario != nil {
		g.Go(func() error { return m.scenario.Run(gctx, time.Second) })
	}
	g.Go(func() error { return m.publish(gctx) })

	err := g.Wait()
	m.terminateAll(ctx)
	m.flush(context.WithoutCancel(ctx))
	log.Info("mission stopped", "threats", len(m.store.Snapshot().Threats))
	return err
}

func (m *Mission) publish(ctx context.Context) error {
	interval := config.Seconds(m.cfg.TelemetryIntervalSeconds)
	if interval <= 0 {
		interval = time.Second
	}
	for clock.Sleep(ctx, m.clock, interval) == nil {
		m.flush(ctx)
	}
	return nil
}

// flush writes buffered events and one telemetry row per agent.
func (m *Mission) flush(ctx context.Context) {
	log := logging.FromContext(ctx)
	snap := m.store.Snapshot()
	m.metrics.Observe(snap)

	m.mu.Lock()
	events := m.pending
	m.pending = nil
	m.mu.Unlock()
	if len(events) > 0 {
		if err := m.out.WriteEvents(events); err != nil {
			log.Warn("event sink write failed", "events", len(events), "err", err)
		}
	}
	if err := m.out.WriteBatch(sink.AgentRows(m.ID, snap, m.clock.Now())); err != nil {
		log.Warn("telemetry sink write failed", "err", err)
	}
}

// terminateAll marks agents whose controller did not land them.
func (m *Mission) terminateAll(ctx context.Context) {
	for _, a := range m.store.Snapshot().Agents {
		if a.Status == swarm.StatusTerminated {
			continue
		}
		if err := m.store.UpsertAgentPosition(a.ID, a.Position, swarm.StatusTerminated); err != nil {
			logging.FromContext(ctx).Error("terminate agent", "agent_id", a.ID, "err", err)
		}
	}
}
