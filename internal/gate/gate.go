// Package gate is the authorization gate between the threat ledger and the
// operator. Every candidate passes through PendingAuthorization and waits
// for exactly one human decision, or expires after the configured TTL.
package gate

import (
	"context"
	"fmt"
	"time"

	"hiveops/internal/clock"
	"hiveops/internal/logging"
	"hiveops/internal/swarm"
)

// DefaultSweepInterval is how often Run looks for stale pending threats.
const DefaultSweepInterval = time.Second

// Option configures a Gate.
type Option func(*Gate)

// WithClock overrides the clock for deterministic testing.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithTTL sets how long a threat may stay pending. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithSweepInterval sets the expiry scan period used by Run.
func WithSweepInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.interval = d
		}
	}
}

// Gate surfaces pending threats and applies operator decisions.
type Gate struct {
	store    *swarm.Store
	clock    clock.Clock
	ttl      time.Duration
	interval time.Duration
}

// New creates a gate over store.
func New(store *swarm.Store, opts ...Option) *Gate {
	g := &Gate{store: store, clock: clock.Real{}, interval: DefaultSweepInterval}
	for _, o := range opts {
		o(g)
	}
	return g
}

// TTL returns the configured pending lifetime.
func (g *Gate) TTL() time.Duration { return g.ttl }

// Submit records a candidate and queues it for a decision.
func (g *Gate) Submit(ctx context.Context, c swarm.Candidate) (swarm.ThreatRecord, error) {
	rec, err := g.store.AppendThreat(c)
	if err != nil {
		return rec, err
	}
	rec, err = g.store.MarkPending(rec.ID)
	if err != nil {
		return rec, err
	}
	logging.FromContext(ctx).Info("threat pending authorization",
		"threat_id", rec.ID, "class", rec.ObjectClass, "confidence", rec.Confidence,
		"x", rec.WorldPosition.X, "y", rec.WorldPosition.Y, "source", rec.SourceAgentID)
	return rec, nil
}

// Pending returns threats awaiting a decision, oldest first.
func (g *Gate) Pending() []swarm.ThreatRecord {
	return g.store.Snapshot().ThreatsIn(swarm.ThreatPendingAuthorization)
}

// Deadline returns when a pending threat expires. ok is false when expiry
// is disabled or the threat is not pending.
func (g *Gate) Deadline(t swarm.ThreatRecord) (time.Time, bool) {
	if g.ttl <= 0 || t.State != swarm.ThreatPendingAuthorization || len(t.History) == 0 {
		return time.Time{}, false
	}
	return t.History[len(t.History)-1].At.Add(g.ttl), true
}

// Decide applies the operator's decision. Only the first decision on a
// threat is accepted; later ones fail with swarm.ErrInvalidTransition. A
// decision arriving after the TTL expires the threat instead.
func (g *Gate) Decide(ctx context.Context, id uint64, d swarm.Decision) (swarm.DecisionResult, error) {
	log := logging.FromContext(ctx)
	if t, ok := g.store.Snapshot().Threat(id); ok {
		if deadline, ok := g.Deadline(t); ok && !g.clock.Now().Before(deadline) {
			if _, err := g.store.Expire(id); err == nil {
				log.Warn("threat expired before decision", "threat_id", id, "decision", d)
			}
			return swarm.DecisionResult{}, fmt.Errorf("threat %d authorization window closed: %w", id, swarm.ErrInvalidTransition)
		}
	}
	res, err := g.store.DecideThreat(id, d)
	if err != nil {
		return res, err
	}
	switch {
	case res.SlotID != "":
		log.Info("threat authorized", "threat_id", id, "strike_unit", res.SlotID)
	case res.Queued():
		log.Warn("threat authorized, no strike unit available", "threat_id", id)
	default:
		log.Info("threat dismissed", "threat_id", id)
	}
	return res, nil
}

// Revoke withdraws an authorization before the strike unit engages.
func (g *Gate) Revoke(ctx context.Context, id uint64) (swarm.ThreatRecord, error) {
	rec, err := g.store.Revoke(id)
	if err != nil {
		return rec, err
	}
	logging.FromContext(ctx).Info("authorization revoked", "threat_id", id)
	return rec, nil
}

// ExpireStale expires threats pending longer than the TTL.
func (g *Gate) ExpireStale(ctx context.Context) []swarm.ThreatRecord {
	if g.ttl <= 0 {
		return nil
	}
	expired := g.store.ExpirePending(g.clock.Now().Add(-g.ttl))
	log := logging.FromContext(ctx)
	for _, t := range expired {
		log.Warn("threat expired", "threat_id", t.ID, "class", t.ObjectClass, "ttl", g.ttl)
	}
	return expired
}

// Run sweeps for expired threats until ctx is done.
func (g *Gate) Run(ctx context.Context) error {
	if g.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	for clock.Sleep(ctx, g.clock, g.interval) == nil {
		g.ExpireStale(ctx)
	}
	return nil
}
