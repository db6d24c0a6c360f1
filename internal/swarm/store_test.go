package swarm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hiveops/internal/clock"
)

func newTestStore(t *testing.T, strikeUnits ...string) (*Store, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1000, 0))
	s := NewStore(WithClock(fc))
	if err := s.RegisterAgent("queen", RoleSentinel, Position{}); err != nil {
		t.Fatalf("register sentinel: %v", err)
	}
	if err := s.RegisterAgent("patrol-1", RolePatrol, Position{}); err != nil {
		t.Fatalf("register patrol: %v", err)
	}
	for _, id := range strikeUnits {
		if err := s.RegisterAgent(id, RoleStrike, Position{}); err != nil {
			t.Fatalf("register strike %s: %v", id, err)
		}
	}
	return s, fc
}

// pendingThreat appends a candidate at x and moves it to PendingAuthorization.
func pendingThreat(t *testing.T, s *Store, x float64) ThreatRecord {
	t.Helper()
	rec, err := s.AppendThreat(Candidate{ObjectClass: "car", Confidence: 0.9, WorldPosition: Position{X: x}, SourceAgentID: "queen"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	rec, err = s.MarkPending(rec.ID)
	if err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	return rec
}

func TestAppendThreatAssignsMonotonicIDs(t *testing.T) {
	s, _ := newTestStore(t)
	var last uint64
	for i := 0; i < 5; i++ {
		rec := pendingThreat(t, s, float64(i*100))
		if rec.ID <= last {
			t.Fatalf("id %d not greater than %d", rec.ID, last)
		}
		last = rec.ID
	}
	snap := s.Snapshot()
	if len(snap.Threats) != 5 {
		t.Fatalf("expected 5 threats, got %d", len(snap.Threats))
	}
	for i, th := range snap.Threats {
		if th.ID != uint64(i+1) {
			t.Fatalf("threat %d out of detection order: id %d", i, th.ID)
		}
	}
}

func TestAppendThreatDebouncesDuplicate(t *testing.T) {
	s, fc := newTestStore(t)
	c := Candidate{ObjectClass: "person", Confidence: 0.8, WorldPosition: Position{X: 10, Y: 10}, SourceAgentID: "queen"}
	first, err := s.AppendThreat(c)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if _, err := s.MarkPending(first.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	fc.Advance(time.Second)
	c.WorldPosition.X += 0.5
	if _, err := s.AppendThreat(c); !errors.Is(err, ErrDuplicateCandidate) {
		t.Fatalf("expected ErrDuplicateCandidate, got %v", err)
	}
	if n := len(s.Snapshot().Threats); n != 1 {
		t.Fatalf("expected exactly one ledger record, got %d", n)
	}

	// outside the window the same object is a new candidate
	fc.Advance(DefaultDebounceWindow + time.Second)
	if _, err := s.AppendThreat(c); err != nil {
		t.Fatalf("append after window: %v", err)
	}
}

func TestAppendThreatDistinctSourceOrPositionNotDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	c := Candidate{ObjectClass: "truck", Confidence: 0.7, WorldPosition: Position{X: 1}, SourceAgentID: "queen"}
	if _, err := s.AppendThreat(c); err != nil {
		t.Fatalf("append: %v", err)
	}
	far := c
	far.WorldPosition.X = 50
	if _, err := s.AppendThreat(far); err != nil {
		t.Fatalf("far candidate rejected: %v", err)
	}
	other := c
	other.SourceAgentID = "patrol-1"
	if _, err := s.AppendThreat(other); err != nil {
		t.Fatalf("candidate from another source rejected: %v", err)
	}
}

func TestAppendThreatRejectsBadCandidate(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.AppendThreat(Candidate{Confidence: 1.5, SourceAgentID: "queen"}); !errors.Is(err, ErrInvalidCandidate) {
		t.Fatalf("expected ErrInvalidCandidate, got %v", err)
	}
	if _, err := s.AppendThreat(Candidate{Confidence: 0.5, SourceAgentID: "ghost"}); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestDecideThreatTwiceIsRejected(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	res, err := s.DecideThreat(th.ID, DecisionAuthorize)
	if err != nil {
		t.Fatalf("first decision: %v", err)
	}
	if res.SlotID != "strike-1" || res.Threat.State != ThreatAssigned {
		t.Fatalf("unexpected result %+v", res)
	}
	before := s.Snapshot()
	for _, d := range []Decision{DecisionAuthorize, DecisionDismiss} {
		if _, err := s.DecideThreat(th.ID, d); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("second %s: expected ErrInvalidTransition, got %v", d, err)
		}
	}
	after := s.Snapshot()
	if after.Version != before.Version {
		t.Fatalf("rejected decision changed state: version %d -> %d", before.Version, after.Version)
	}
	if n := len(after.Pool); n != 1 || after.Pool[0].AssignedThreatID != th.ID {
		t.Fatalf("unexpected pool %+v", after.Pool)
	}
}

func TestDecideThreatRequiresPending(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	rec, err := s.AppendThreat(Candidate{ObjectClass: "car", Confidence: 0.9, SourceAgentID: "queen"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.DecideThreat(rec.ID, DecisionAuthorize); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("deciding a Detected threat: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.DecideThreat(99, DecisionAuthorize); !errors.Is(err, ErrUnknownThreat) {
		t.Fatalf("expected ErrUnknownThreat, got %v", err)
	}
}

func TestDismissLeavesPoolUntouched(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	res, err := s.DecideThreat(th.ID, DecisionDismiss)
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if res.Threat.State != ThreatDismissed || res.SlotID != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.Snapshot().Pool[0].Status != SlotIdle {
		t.Fatalf("dismiss claimed a slot")
	}
}

func TestUpsertAgentPositionIdempotent(t *testing.T) {
	s, fc := newTestStore(t)
	pos := Position{X: 1, Y: 2, Z: 3}
	if err := s.UpsertAgentPosition("patrol-1", pos, StatusActive); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	once := s.Snapshot()
	for i := 0; i < 10; i++ {
		fc.Advance(time.Second)
		if err := s.UpsertAgentPosition("patrol-1", pos, StatusActive); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	again := s.Snapshot()
	if again.Version != once.Version {
		t.Fatalf("repeated upsert bumped version %d -> %d", once.Version, again.Version)
	}
	a, _ := again.Agent("patrol-1")
	b, _ := once.Agent("patrol-1")
	if a != b {
		t.Fatalf("record changed: %+v vs %+v", a, b)
	}
	if err := s.UpsertAgentPosition("ghost", pos, StatusActive); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestBacklogAssignedInDetectionOrder(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	t1 := pendingThreat(t, s, 0)
	t2 := pendingThreat(t, s, 100)
	t3 := pendingThreat(t, s, 200)

	res, err := s.DecideThreat(t1.ID, DecisionAuthorize)
	if err != nil || res.SlotID != "strike-1" {
		t.Fatalf("t1 authorize: %+v %v", res, err)
	}
	// authorize in reverse order to show the backlog is not submission ordered
	for _, id := range []uint64{t3.ID, t2.ID} {
		res, err := s.DecideThreat(id, DecisionAuthorize)
		if err != nil {
			t.Fatalf("authorize %d: %v", id, err)
		}
		if !res.Queued() {
			t.Fatalf("threat %d should be queued, got %+v", id, res)
		}
	}
	if _, err := s.TryAssign(t3.ID); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable, got %v", err)
	}
	if got := s.Snapshot().Backlog(); got != 2 {
		t.Fatalf("expected backlog 2, got %d", got)
	}

	if err := s.Release("strike-1", OutcomeCompleted); err != nil {
		t.Fatalf("release: %v", err)
	}
	snap := s.Snapshot()
	if th, _ := snap.Threat(t1.ID); th.State != ThreatExecuted {
		t.Fatalf("t1 state %s", th.State)
	}
	if th, _ := snap.Threat(t2.ID); th.State != ThreatAssigned || th.AssignedSlot != "strike-1" {
		t.Fatalf("t2 should be assigned next, got %+v", th)
	}
	if th, _ := snap.Threat(t3.ID); th.State != ThreatAuthorized {
		t.Fatalf("t3 should still be queued, got %s", th.State)
	}
}

func TestTryAssignPicksLowestIdleAgent(t *testing.T) {
	s, _ := newTestStore(t, "strike-b", "strike-a", "strike-c")
	th := pendingThreat(t, s, 0)
	res, err := s.DecideThreat(th.ID, DecisionAuthorize)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if res.SlotID != "strike-a" {
		t.Fatalf("expected strike-a, got %q", res.SlotID)
	}
	if _, err := s.TryAssign(th.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("assigning an assigned threat: expected ErrInvalidTransition, got %v", err)
	}
}

func TestAbortedEngagementRequeuesThreat(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := s.BeginEngagement("strike-1", th.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Release("strike-1", OutcomeAborted); err != nil {
		t.Fatalf("release aborted: %v", err)
	}
	snap := s.Snapshot()
	got, _ := snap.Threat(th.ID)
	if got.State != ThreatAuthorized || got.Aborts != 1 || got.AssignedSlot != "" {
		t.Fatalf("expected requeued threat, got %+v", got)
	}
	if snap.Pool[0].Status != SlotIdle {
		t.Fatalf("expected idle slot, got %s", snap.Pool[0].Status)
	}
	if n := s.AssignBacklog(); n != 1 {
		t.Fatalf("expected backlog scan to reassign, got %d", n)
	}
	got, _ = s.Snapshot().Threat(th.ID)
	if got.State != ThreatAssigned {
		t.Fatalf("expected reassignment, got %s", got.State)
	}
}

func TestAuthorizeAfterAbortServesOlderThreatFirst(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	older := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(older.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize older: %v", err)
	}
	if _, err := s.BeginEngagement("strike-1", older.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	// the aborting unit is skipped, so the older threat waits next to an idle slot
	if err := s.Release("strike-1", OutcomeAborted); err != nil {
		t.Fatalf("release aborted: %v", err)
	}
	newer := pendingThreat(t, s, 100)
	res, err := s.DecideThreat(newer.ID, DecisionAuthorize)
	if err != nil {
		t.Fatalf("authorize newer: %v", err)
	}
	if !res.Queued() || res.SlotID != "" {
		t.Fatalf("expected newer threat queued, got %+v", res)
	}
	snap := s.Snapshot()
	gotOld, _ := snap.Threat(older.ID)
	gotNew, _ := snap.Threat(newer.ID)
	if gotOld.State != ThreatAssigned || gotOld.AssignedSlot != "strike-1" {
		t.Fatalf("expected older threat assigned, got %+v", gotOld)
	}
	if gotNew.State != ThreatAuthorized {
		t.Fatalf("expected newer threat queued, got %s", gotNew.State)
	}
}

func TestReleaseThreatRequiresHeldThreat(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	first := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(first.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := s.Revoke(first.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	second := pendingThreat(t, s, 100)
	if _, err := s.DecideThreat(second.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := s.ReleaseThreat("strike-1", first.ID, OutcomeAborted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := s.Snapshot().Threat(second.ID)
	if got.State != ThreatAssigned || got.Aborts != 0 {
		t.Fatalf("second threat disturbed: %+v", got)
	}
	if err := s.ReleaseThreat("strike-1", second.ID, OutcomeCompleted); err != nil {
		t.Fatalf("release held threat: %v", err)
	}
}

func TestAbortedThreatGoesToOtherIdleUnit(t *testing.T) {
	s, _ := newTestStore(t, "strike-1", "strike-2")
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := s.Release("strike-1", OutcomeAborted); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ := s.Snapshot().Threat(th.ID)
	if got.State != ThreatAssigned || got.AssignedSlot != "strike-2" {
		t.Fatalf("expected handover to strike-2, got %+v", got)
	}
}

func TestReleaseIdleSlotRejected(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	if err := s.Release("strike-1", OutcomeCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.Release("nope", OutcomeCompleted); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
}

func TestRevokeBeforeEngagement(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	rec, err := s.Revoke(th.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.State != ThreatDismissed {
		t.Fatalf("expected dismissed, got %s", rec.State)
	}
	if _, err := s.BeginEngagement("strike-1", th.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected engagement refusal, got %v", err)
	}
	if s.Snapshot().Pool[0].Status != SlotIdle {
		t.Fatalf("revoked slot not freed")
	}
}

func TestRevokeAfterEngagementRejected(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := s.BeginEngagement("strike-1", th.ID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := s.Revoke(th.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpirePendingHonoursCutoff(t *testing.T) {
	s, fc := newTestStore(t)
	old := pendingThreat(t, s, 0)
	fc.Advance(10 * time.Second)
	fresh := pendingThreat(t, s, 100)
	expired := s.ExpirePending(fc.Now().Add(-5 * time.Second))
	if len(expired) != 1 || expired[0].ID != old.ID {
		t.Fatalf("unexpected expiry %+v", expired)
	}
	if got, _ := s.Snapshot().Threat(fresh.ID); got.State != ThreatPendingAuthorization {
		t.Fatalf("fresh threat expired early: %s", got.State)
	}
	if _, err := s.Expire(old.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-expiring: expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignmentsSignalled(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	ch := s.Assignments("strike-1")
	if ch == nil {
		t.Fatalf("expected assignment channel")
	}
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected wake signal")
	}
	slot, rec, ok := s.CurrentAssignment("strike-1")
	if !ok || slot.Status != SlotAssigned || rec.ID != th.ID {
		t.Fatalf("unexpected assignment %+v %+v %v", slot, rec, ok)
	}
	if s.Assignments("patrol-1") != nil {
		t.Fatalf("patrol unit should have no assignment channel")
	}
}

func TestSnapshotIsStableCopy(t *testing.T) {
	s, _ := newTestStore(t, "strike-1")
	th := pendingThreat(t, s, 0)
	snap := s.Snapshot()
	if s.Snapshot() != snap {
		t.Fatalf("expected cached snapshot when nothing changed")
	}
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got, _ := snap.Threat(th.ID); got.State != ThreatPendingAuthorization {
		t.Fatalf("old snapshot mutated: %s", got.State)
	}
	if len(snap.Threats[0].History) != 2 {
		t.Fatalf("old snapshot history mutated: %+v", snap.Threats[0].History)
	}
}

func TestEventsCarryTotalOrder(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	s := NewStore(WithEventHandler(func(es []Event) {
		mu.Lock()
		events = append(events, es...)
		mu.Unlock()
	}))
	if err := s.RegisterAgent("queen", RoleSentinel, Position{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.RegisterAgent("strike-1", RoleStrike, Position{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	th := pendingThreat(t, s, 0)
	if _, err := s.DecideThreat(th.ID, DecisionAuthorize); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	var threatStates []string
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
		if e.Kind == EventThreat {
			threatStates = append(threatStates, e.To)
		}
	}
	want := []string{"detected", "pending_authorization", "authorized", "assigned"}
	if fmt.Sprint(threatStates) != fmt.Sprint(want) {
		t.Fatalf("threat events %v, want %v", threatStates, want)
	}
}

func TestConcurrentEventsDeliveredInSeqOrder(t *testing.T) {
	var last uint64
	var calls, bad int
	var inside sync.Mutex
	s := NewStore(WithEventHandler(func(es []Event) {
		if !inside.TryLock() {
			bad++
			return
		}
		defer inside.Unlock()
		calls++
		for _, e := range es {
			if e.Seq != last+1 {
				bad++
			}
			last = e.Seq
		}
	}))
	if err := s.RegisterAgent("queen", RoleSentinel, Position{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c := Candidate{ObjectClass: "car", Confidence: 0.9, WorldPosition: Position{X: float64(g*1000 + i*20)}, SourceAgentID: "queen"}
				rec, err := s.AppendThreat(c)
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				if _, err := s.MarkPending(rec.ID); err != nil {
					t.Errorf("mark pending: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	inside.Lock()
	defer inside.Unlock()
	if bad != 0 {
		t.Fatalf("%d events delivered out of order or concurrently", bad)
	}
	if want := uint64(1 + 8*50*2); last != want {
		t.Fatalf("last seq %d, want %d", last, want)
	}
}

func TestSetPatrolArea(t *testing.T) {
	var events []Event
	fc := clock.NewFake(time.Unix(1000, 0))
	s := NewStore(WithClock(fc), WithPatrolArea(Position{X: 1, Y: 2}, 30, 15), WithEventHandler(func(es []Event) {
		events = append(events, es...)
	}))
	if got := s.PatrolArea(); got.Radius != 30 || got.Altitude != 15 || got.Revision != 0 {
		t.Fatalf("unexpected initial area %+v", got)
	}
	if _, err := s.SetPatrolArea(Position{}, 0); !errors.Is(err, ErrInvalidPatrolArea) {
		t.Fatalf("expected ErrInvalidPatrolArea, got %v", err)
	}
	fc.Advance(time.Second)
	area, err := s.SetPatrolArea(Position{X: 50, Y: -20, Z: 99}, 40)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	want := PatrolArea{Center: Position{X: 50, Y: -20}, Radius: 40, Altitude: 15, Revision: 1, SetAt: fc.Now()}
	if area != want {
		t.Fatalf("area %+v, want %+v", area, want)
	}
	if snap := s.Snapshot(); snap.Patrol != want {
		t.Fatalf("snapshot patrol %+v", snap.Patrol)
	}
	if len(events) != 1 || events[0].Kind != EventPatrol || events[0].Position.X != 50 {
		t.Fatalf("unexpected events %+v", events)
	}
}

// TestConcurrentOperationsKeepPoolConsistent hammers the store from many
// goroutines and then checks the pool and lifecycle invariants.
func TestConcurrentOperationsKeepPoolConsistent(t *testing.T) {
	units := []string{"strike-1", "strike-2", "strike-3"}
	s, _ := newTestStore(t, units...)

	const threats = 60
	ids := make(chan uint64, threats)
	var wg sync.WaitGroup
	for i := 0; i < threats; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.AppendThreat(Candidate{ObjectClass: "car", Confidence: 0.9, WorldPosition: Position{X: float64(i) * 100}, SourceAgentID: "queen"})
			if err != nil {
				t.Errorf("append %d: %v", i, err)
				return
			}
			if _, err := s.MarkPending(rec.ID); err != nil {
				t.Errorf("pending %d: %v", i, err)
				return
			}
			ids <- rec.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	var decided sync.WaitGroup
	for id := range ids {
		// two racing deciders per threat; at most one may win
		for k := 0; k < 2; k++ {
			decided.Add(1)
			go func(id uint64, k int) {
				defer decided.Done()
				d := DecisionAuthorize
				if id%5 == 0 && k == 1 {
					d = DecisionDismiss
				}
				if _, err := s.DecideThreat(id, d); err != nil && !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("decide %d: %v", id, err)
				}
			}(id, k)
		}
	}
	for _, u := range units {
		decided.Add(1)
		go func(u string) {
			defer decided.Done()
			for i := 0; i < 40; i++ {
				_, rec, ok := s.CurrentAssignment(u)
				if !ok {
					s.AssignBacklog()
					continue
				}
				outcome := OutcomeCompleted
				if i%3 == 0 {
					outcome = OutcomeAborted
				}
				if _, err := s.BeginEngagement(u, rec.ID); err != nil && !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("begin: %v", err)
				}
				if err := s.Release(u, outcome); err != nil && !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("release: %v", err)
				}
			}
		}(u)
	}
	decided.Wait()

	snap := s.Snapshot()
	holders := map[uint64]string{}
	for _, slot := range snap.Pool {
		if slot.Status == SlotIdle {
			continue
		}
		if prev, dup := holders[slot.AssignedThreatID]; dup {
			t.Fatalf("threat %d held by %s and %s", slot.AssignedThreatID, prev, slot.AgentID)
		}
		holders[slot.AssignedThreatID] = slot.AgentID
	}
	for _, th := range snap.Threats {
		if th.State == ThreatAssigned {
			if holders[th.ID] != th.AssignedSlot {
				t.Fatalf("assigned threat %d not held by its slot %q", th.ID, th.AssignedSlot)
			}
		} else if _, held := holders[th.ID]; held {
			t.Fatalf("threat %d in state %s still held by a slot", th.ID, th.State)
		}
		checkPath(t, th)
	}
}

// checkPath verifies a threat's history walks the lifecycle lattice.
func checkPath(t *testing.T, th ThreatRecord) {
	t.Helper()
	if len(th.History) < 2 || th.History[0].State != ThreatDetected || th.History[1].State != ThreatPendingAuthorization {
		t.Fatalf("threat %d skipped pending authorization: %+v", th.ID, th.History)
	}
	for i := 1; i < len(th.History); i++ {
		from, to := th.History[i-1].State, th.History[i].State
		if !CanTransition(from, to) {
			t.Fatalf("threat %d illegal step %s -> %s", th.ID, from, to)
		}
		if th.History[i].At.Before(th.History[i-1].At) {
			t.Fatalf("threat %d history goes back in time", th.ID)
		}
	}
	if th.History[len(th.History)-1].State != th.State {
		t.Fatalf("threat %d history does not end in %s", th.ID, th.State)
	}
}
