// Package swarm holds the swarm state store: the entity registry, the threat
// ledger and the strike-unit pool behind a single consistency boundary.
//
// Every mutation runs inside one short critical section with no I/O. Readers
// use Snapshot, which returns an immutable copy rebuilt at most once per
// store version, so rendering never holds up agent progress.
package swarm

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"hiveops/internal/clock"
)

const (
	DefaultDebounceRadius = 5.0
	DefaultDebounceWindow = 8 * time.Second
)

// EventHandler receives store events after the mutation that produced them
// has been committed and the lock released.
type EventHandler func([]Event)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to timestamp records.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithDebounce sets the duplicate-candidate radius (meters) and window.
func WithDebounce(radius float64, window time.Duration) Option {
	return func(s *Store) {
		if radius > 0 {
			s.debounceRadius = radius
		}
		if window > 0 {
			s.debounceWindow = window
		}
	}
}

// WithEventHandler registers h for committed events. Batches arrive one at
// a time and in Seq order, outside the store lock. A handler may read the
// store; events from mutations it makes are delivered after it returns.
func WithEventHandler(h EventHandler) Option {
	return func(s *Store) { s.handler = h }
}

// WithPatrolArea sets the initial patrol circle.
func WithPatrolArea(center Position, radius, altitude float64) Option {
	return func(s *Store) {
		s.patrol = PatrolArea{Center: center, Radius: radius, Altitude: altitude}
	}
}

// Store is the single source of truth shared by all controllers and the
// control surface.
type Store struct {
	mu             sync.Mutex
	clock          clock.Clock
	debounceRadius float64
	debounceWindow time.Duration
	handler        EventHandler

	reg  registry
	led  ledger
	pool pool
	wake map[string]chan struct{}
	seq  uint64

	patrol PatrolArea

	outbox      []Event
	dispatching bool

	version atomic.Uint64
	snap    atomic.Pointer[Snapshot]
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:          clock.Real{},
		debounceRadius: DefaultDebounceRadius,
		debounceWindow: DefaultDebounceWindow,
		reg:            newRegistry(),
		led:            newLedger(),
		pool:           newPool(),
		wake:           make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// txn collects the effects of one critical section.
type txn struct {
	s       *Store
	now     time.Time
	changed bool
	events  []Event
}

func (tx *txn) emit(e Event) {
	tx.s.seq++
	e.Seq = tx.s.seq
	e.At = tx.now
	tx.events = append(tx.events, e)
	tx.changed = true
}

// update runs fn under the store lock, bumps the version when fn changed
// anything and dispatches events once the lock is released.
func (s *Store) update(fn func(tx *txn) error) error {
	s.mu.Lock()
	tx := &txn{s: s, now: s.clock.Now()}
	err := fn(tx)
	if tx.changed {
		s.version.Add(1)
	}
	drain := false
	if s.handler != nil && len(tx.events) > 0 {
		s.outbox = append(s.outbox, tx.events...)
		drain = !s.dispatching
		s.dispatching = true
	}
	s.mu.Unlock()
	if drain {
		s.dispatch()
	}
	return err
}

// dispatch hands queued events to the handler until the outbox is empty.
// Only one caller dispatches at a time; others leave their events queued
// for it.
func (s *Store) dispatch() {
	for {
		s.mu.Lock()
		batch := s.outbox
		s.outbox = nil
		if len(batch) == 0 {
			s.dispatching = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.handler(batch)
	}
}

// RegisterAgent adds an agent at swarm start. Strike agents also get an idle
// slot in the pool.
func (s *Store) RegisterAgent(id string, role Role, pos Position) error {
	if id == "" || !role.Valid() {
		return fmt.Errorf("register agent %q role %q: %w", id, role, ErrInvalidTransition)
	}
	return s.update(func(tx *txn) error {
		rec := AgentRecord{ID: id, Role: role, Position: pos, Status: StatusInitializing, LastUpdatedAt: tx.now}
		if !s.reg.add(rec) {
			return fmt.Errorf("agent %q already registered: %w", id, ErrInvalidTransition)
		}
		tx.emit(Event{Kind: EventAgent, AgentID: id, To: string(StatusInitializing), Position: pos})
		if role == RoleStrike {
			s.pool.add(id)
			s.wake[id] = make(chan struct{}, 1)
			s.assignBacklog(tx, "")
		}
		return nil
	})
}

// UpsertAgentPosition records an agent's position and status. Repeating the
// same values is a no-op.
func (s *Store) UpsertAgentPosition(id string, pos Position, status AgentStatus) error {
	return s.Report(id, pos, status, "")
}

// Report is UpsertAgentPosition plus the controller phase; an empty phase
// keeps the current one.
func (s *Store) Report(id string, pos Position, status AgentStatus, phase string) error {
	return s.update(func(tx *txn) error {
		a, ok := s.reg.get(id)
		if !ok {
			return fmt.Errorf("agent %q: %w", id, ErrUnknownAgent)
		}
		if phase == "" {
			phase = a.Phase
		}
		if a.Position == pos && a.Status == status && a.Phase == phase {
			return nil
		}
		if a.Status != status {
			tx.emit(Event{Kind: EventAgent, AgentID: id, From: string(a.Status), To: string(status), Position: pos})
		}
		a.Position = pos
		a.Status = status
		a.Phase = phase
		a.LastUpdatedAt = tx.now
		tx.changed = true
		return nil
	})
}

// AppendThreat records a new candidate in the Detected state and returns it.
func (s *Store) AppendThreat(c Candidate) (ThreatRecord, error) {
	var out ThreatRecord
	if c.Confidence < 0 || c.Confidence > 1 {
		return out, fmt.Errorf("confidence %.3f outside [0,1]: %w", c.Confidence, ErrInvalidCandidate)
	}
	err := s.update(func(tx *txn) error {
		if _, ok := s.reg.get(c.SourceAgentID); !ok {
			return fmt.Errorf("source agent %q: %w", c.SourceAgentID, ErrUnknownAgent)
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = tx.now
		}
		if dup, ok := s.led.duplicateOf(c, s.debounceRadius, s.debounceWindow); ok {
			return fmt.Errorf("matches threat %d: %w", dup.ID, ErrDuplicateCandidate)
		}
		t := s.led.append(c)
		tx.emit(threatEvent(t, ""))
		out = t.clone()
		return nil
	})
	return out, err
}

// MarkPending moves a Detected threat to PendingAuthorization.
func (s *Store) MarkPending(id uint64) (ThreatRecord, error) {
	return s.moveThreat(id, ThreatDetected, ThreatPendingAuthorization)
}

// Expire moves a threat still pending authorization to Expired.
func (s *Store) Expire(id uint64) (ThreatRecord, error) {
	return s.moveThreat(id, ThreatPendingAuthorization, ThreatExpired)
}

func (s *Store) moveThreat(id uint64, from, to ThreatState) (ThreatRecord, error) {
	var out ThreatRecord
	err := s.update(func(tx *txn) error {
		t, ok := s.led.get(id)
		if !ok {
			return fmt.Errorf("threat %d: %w", id, ErrUnknownThreat)
		}
		if t.State != from {
			return fmt.Errorf("threat %d is %s, not %s: %w", id, t.State, from, ErrInvalidTransition)
		}
		if err := s.transition(tx, t, to); err != nil {
			return err
		}
		out = t.clone()
		return nil
	})
	return out, err
}

// ExpirePending expires every pending threat that entered
// PendingAuthorization at or before cutoff.
func (s *Store) ExpirePending(cutoff time.Time) []ThreatRecord {
	var out []ThreatRecord
	_ = s.update(func(tx *txn) error {
		for _, t := range s.led.inState(ThreatPendingAuthorization) {
			if enteredAt(t).After(cutoff) {
				continue
			}
			if err := s.transition(tx, t, ThreatExpired); err == nil {
				out = append(out, t.clone())
			}
		}
		return nil
	})
	return out
}

// DecideThreat applies an operator decision to a pending threat. Authorizing
// rescans the backlog oldest first, so an earlier queued threat takes an idle
// unit before this one; when none is left the threat stays Authorized and the
// result reports it as queued.
func (s *Store) DecideThreat(id uint64, d Decision) (DecisionResult, error) {
	var res DecisionResult
	err := s.update(func(tx *txn) error {
		t, ok := s.led.get(id)
		if !ok {
			return fmt.Errorf("threat %d: %w", id, ErrUnknownThreat)
		}
		if t.State != ThreatPendingAuthorization {
			return fmt.Errorf("threat %d already %s: %w", id, t.State, ErrInvalidTransition)
		}
		switch d {
		case DecisionAuthorize:
			if err := s.transition(tx, t, ThreatAuthorized); err != nil {
				return err
			}
			s.assignBacklog(tx, "")
			if t.State == ThreatAssigned {
				res.SlotID = t.AssignedSlot
			}
		case DecisionDismiss:
			if err := s.transition(tx, t, ThreatDismissed); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown decision %q: %w", d, ErrInvalidTransition)
		}
		res.Threat = t.clone()
		return nil
	})
	return res, err
}

// TryAssign claims the idle slot with the lowest agent id for an authorized
// threat. It never blocks; ErrNoneAvailable leaves the threat queued.
func (s *Store) TryAssign(threatID uint64) (string, error) {
	var slotID string
	err := s.update(func(tx *txn) error {
		t, ok := s.led.get(threatID)
		if !ok {
			return fmt.Errorf("threat %d: %w", threatID, ErrUnknownThreat)
		}
		if t.State != ThreatAuthorized {
			return fmt.Errorf("threat %d is %s: %w", threatID, t.State, ErrInvalidTransition)
		}
		slot, ok := s.assign(tx, t, "")
		if !ok {
			return fmt.Errorf("threat %d: %w", threatID, ErrNoneAvailable)
		}
		slotID = slot.AgentID
		return nil
	})
	return slotID, err
}

// AssignBacklog hands queued authorized threats, oldest detection first, to
// idle slots. It returns the number of assignments made.
func (s *Store) AssignBacklog() int {
	var n int
	_ = s.update(func(tx *txn) error {
		n = s.assignBacklog(tx, "")
		return nil
	})
	return n
}

// BeginEngagement marks the slot as engaging its assigned threat. It fails
// with ErrInvalidTransition when the assignment was revoked or replaced.
func (s *Store) BeginEngagement(slotID string, threatID uint64) (ThreatRecord, error) {
	var out ThreatRecord
	err := s.update(func(tx *txn) error {
		slot, ok := s.pool.get(slotID)
		if !ok {
			return fmt.Errorf("slot %q: %w", slotID, ErrUnknownSlot)
		}
		if slot.Status != SlotAssigned || slot.AssignedThreatID != threatID {
			return fmt.Errorf("slot %q no longer holds threat %d: %w", slotID, threatID, ErrInvalidTransition)
		}
		t, ok := s.led.get(threatID)
		if !ok || t.State != ThreatAssigned {
			return fmt.Errorf("threat %d not assigned: %w", threatID, ErrInvalidTransition)
		}
		s.setSlot(tx, slot, SlotEngaging, threatID)
		out = t.clone()
		return nil
	})
	return out, err
}

// Release returns a slot to Idle. Completed marks its threat Executed;
// Aborted puts the threat back to Authorized for reassignment to any other
// idle unit. The backlog is then rescanned in detection order.
func (s *Store) Release(slotID string, outcome Outcome) error {
	return s.release(slotID, 0, outcome)
}

// ReleaseThreat is Release for a unit that only answers for threatID. It
// fails with ErrInvalidTransition when the slot now holds another threat.
func (s *Store) ReleaseThreat(slotID string, threatID uint64, outcome Outcome) error {
	return s.release(slotID, threatID, outcome)
}

func (s *Store) release(slotID string, threatID uint64, outcome Outcome) error {
	return s.update(func(tx *txn) error {
		slot, ok := s.pool.get(slotID)
		if !ok {
			return fmt.Errorf("slot %q: %w", slotID, ErrUnknownSlot)
		}
		if slot.Status == SlotIdle {
			return fmt.Errorf("slot %q is idle: %w", slotID, ErrInvalidTransition)
		}
		if threatID != 0 && slot.AssignedThreatID != threatID {
			return fmt.Errorf("slot %q no longer holds threat %d: %w", slotID, threatID, ErrInvalidTransition)
		}
		t, ok := s.led.get(slot.AssignedThreatID)
		if !ok {
			return fmt.Errorf("threat %d: %w", slot.AssignedThreatID, ErrUnknownThreat)
		}
		skip := ""
		switch outcome {
		case OutcomeCompleted:
			if err := s.transition(tx, t, ThreatExecuted); err != nil {
				return err
			}
		case OutcomeAborted:
			if err := s.transition(tx, t, ThreatAuthorized); err != nil {
				return err
			}
			t.Aborts++
			skip = slotID
		default:
			return fmt.Errorf("unknown outcome %q: %w", outcome, ErrInvalidTransition)
		}
		t.AssignedSlot = ""
		s.setSlot(tx, slot, SlotIdle, 0)
		s.assignBacklog(tx, skip)
		return nil
	})
}

// Revoke dismisses an authorized threat before its unit starts engaging.
// A slot holding it is freed and the backlog rescanned.
func (s *Store) Revoke(threatID uint64) (ThreatRecord, error) {
	var out ThreatRecord
	err := s.update(func(tx *txn) error {
		t, ok := s.led.get(threatID)
		if !ok {
			return fmt.Errorf("threat %d: %w", threatID, ErrUnknownThreat)
		}
		switch t.State {
		case ThreatAuthorized:
		case ThreatAssigned:
			slot, ok := s.pool.holderOf(threatID)
			if ok && slot.Status == SlotEngaging {
				return fmt.Errorf("threat %d already engaged by %q: %w", threatID, slot.AgentID, ErrInvalidTransition)
			}
			if ok {
				s.setSlot(tx, slot, SlotIdle, 0)
			}
		default:
			return fmt.Errorf("threat %d is %s: %w", threatID, t.State, ErrInvalidTransition)
		}
		if err := s.transition(tx, t, ThreatDismissed); err != nil {
			return err
		}
		t.AssignedSlot = ""
		s.assignBacklog(tx, "")
		out = t.clone()
		return nil
	})
	return out, err
}

// PatrolArea returns the current patrol circle.
func (s *Store) PatrolArea() PatrolArea {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patrol
}

// SetPatrolArea moves the patrol circle. The altitude is kept; center.Z is
// ignored. Patrol units pick the new circle up at their next waypoint.
func (s *Store) SetPatrolArea(center Position, radius float64) (PatrolArea, error) {
	var out PatrolArea
	if radius <= 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return out, fmt.Errorf("radius %v: %w", radius, ErrInvalidPatrolArea)
	}
	err := s.update(func(tx *txn) error {
		center.Z = 0
		s.patrol.Center = center
		s.patrol.Radius = radius
		s.patrol.Revision++
		s.patrol.SetAt = tx.now
		tx.emit(Event{Kind: EventPatrol, To: fmt.Sprintf("radius %.1f", radius), Position: center})
		out = s.patrol
		return nil
	})
	return out, err
}

// CurrentAssignment returns the threat held by a strike agent's slot.
func (s *Store) CurrentAssignment(agentID string) (StrikeUnitSlot, ThreatRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.pool.get(agentID)
	if !ok || slot.Status == SlotIdle {
		return StrikeUnitSlot{}, ThreatRecord{}, false
	}
	t, ok := s.led.get(slot.AssignedThreatID)
	if !ok {
		return StrikeUnitSlot{}, ThreatRecord{}, false
	}
	return *slot, t.clone(), true
}

// Assignments returns a channel signalled whenever the agent's slot receives
// a new assignment. Nil for agents without a slot.
func (s *Store) Assignments(agentID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake[agentID]
}

// Snapshot returns a consistent, immutable view of the store. Callers must
// not modify it.
func (s *Store) Snapshot() *Snapshot {
	if snap := s.snap.Load(); snap != nil && snap.Version == s.version.Load() {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.version.Load()
	if snap := s.snap.Load(); snap != nil && snap.Version == v {
		return snap
	}
	snap := &Snapshot{
		Version: v,
		TakenAt: s.clock.Now(),
		Agents:  s.reg.list(),
		Threats: s.led.list(),
		Pool:    s.pool.list(),
		Patrol:  s.patrol,
	}
	s.snap.Store(snap)
	return snap
}

func (s *Store) transition(tx *txn, t *ThreatRecord, to ThreatState) error {
	from := t.State
	if err := s.led.transition(t, to, tx.now); err != nil {
		return err
	}
	tx.emit(threatEvent(t, from))
	return nil
}

// assign claims the first idle slot (excluding skip) for an authorized threat.
func (s *Store) assign(tx *txn, t *ThreatRecord, skip string) (*StrikeUnitSlot, bool) {
	slot, ok := s.pool.firstIdle(skip)
	if !ok {
		return nil, false
	}
	t.AssignedSlot = slot.AgentID
	if err := s.transition(tx, t, ThreatAssigned); err != nil {
		t.AssignedSlot = ""
		return nil, false
	}
	s.setSlot(tx, slot, SlotAssigned, t.ID)
	select {
	case s.wake[slot.AgentID] <- struct{}{}:
	default:
	}
	return slot, true
}

func (s *Store) assignBacklog(tx *txn, skip string) int {
	n := 0
	for _, t := range s.led.inState(ThreatAuthorized) {
		if _, ok := s.assign(tx, t, skip); !ok {
			break
		}
		n++
	}
	return n
}

func (s *Store) setSlot(tx *txn, slot *StrikeUnitSlot, status SlotStatus, threatID uint64) {
	from, held := slot.Status, slot.AssignedThreatID
	slot.Status = status
	slot.AssignedThreatID = threatID
	if threatID == 0 {
		threatID = held
	}
	tx.emit(Event{Kind: EventSlot, AgentID: slot.AgentID, ThreatID: threatID, From: string(from), To: string(status)})
}
