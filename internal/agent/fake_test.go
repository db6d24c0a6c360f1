package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"hiveops/internal/link"
	"hiveops/internal/swarm"
)

type moveCall struct {
	agent string
	to    swarm.Position
	speed float64
}

// fakeLink moves vehicles instantly unless a scripted error is queued for
// the agent or the agent's moves are held.
type fakeLink struct {
	mu        sync.Mutex
	pos       map[string]swarm.Position
	moves     []moveCall
	moveErrs  map[string][]error
	hold      map[string]bool
	frames    map[string]link.Frame
	imageErrs map[string]error
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		pos:       make(map[string]swarm.Position),
		moveErrs:  make(map[string][]error),
		hold:      make(map[string]bool),
		frames:    make(map[string]link.Frame),
		imageErrs: make(map[string]error),
	}
}

func (f *fakeLink) MoveTo(ctx context.Context, agentID string, pos swarm.Position, speed float64) error {
	f.mu.Lock()
	f.moves = append(f.moves, moveCall{agent: agentID, to: pos, speed: speed})
	if errs := f.moveErrs[agentID]; len(errs) > 0 {
		err := errs[0]
		f.moveErrs[agentID] = errs[1:]
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	held := f.hold[agentID]
	f.mu.Unlock()
	if held {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	f.pos[agentID] = pos
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) GetImage(_ context.Context, agentID string) (link.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.imageErrs[agentID]; err != nil {
		return link.Frame{}, err
	}
	return f.frames[agentID], nil
}

func (f *fakeLink) GetPosition(_ context.Context, agentID string) (swarm.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos[agentID], nil
}

func (f *fakeLink) movesOf(agentID string) []moveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []moveCall
	for _, m := range f.moves {
		if m.agent == agentID {
			out = append(out, m)
		}
	}
	return out
}

// fakeDetector returns canned detections per frame id.
type fakeDetector struct {
	dets map[string][]link.Detection
	errs map[string]error
}

func (d *fakeDetector) Infer(_ context.Context, frame link.Frame, _ float64) ([]link.Detection, error) {
	if err := d.errs[frame.ID]; err != nil {
		return nil, &link.DetectionError{FrameID: frame.ID, Err: err}
	}
	return d.dets[frame.ID], nil
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func agentRecord(t *testing.T, s *swarm.Store, id string) swarm.AgentRecord {
	t.Helper()
	a, ok := s.Snapshot().Agent(id)
	if !ok {
		t.Fatalf("agent %s missing", id)
	}
	return a
}

func threatRecord(t *testing.T, s *swarm.Store, id uint64) swarm.ThreatRecord {
	t.Helper()
	th, ok := s.Snapshot().Threat(id)
	if !ok {
		t.Fatalf("threat %d missing", id)
	}
	return th
}
