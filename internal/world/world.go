// Package world is a simulated flight-control link and detection engine.
// Vehicles move in a flat local frame, ground objects roam with a random
// walk, and camera frames carry the visible objects as CBOR.
package world

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"hiveops/internal/clock"
	"hiveops/internal/link"
	"hiveops/internal/swarm"
)

const (
	DefaultImageWidth  = 640
	DefaultImageHeight = 480
	DefaultCameraRange = 40.0
	// impactRadius is how close to ground level a vehicle must arrive to
	// neutralize an object.
	impactRadius = 3.0
)

// Config tunes the simulation.
type Config struct {
	Seed        int64
	FailureRate float64
	ImageWidth  int
	ImageHeight int
	CameraRange float64
	// Bounds is the half-width of the square objects roam in.
	Bounds  float64
	Objects []Object
}

// Object is a ground object the cameras can see.
type Object struct {
	ID          string
	Class       string
	Position    swarm.Position
	Neutralized bool
}

type vehicle struct {
	pos swarm.Position
}

// Sim implements link.FlightLink over simulated vehicles.
type Sim struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	rand     *rand.Rand
	vehicles map[string]*vehicle
	objects  []*Object
}

// New creates a simulation. Zero-valued Config fields take defaults.
func New(cfg Config, c clock.Clock) *Sim {
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = DefaultImageWidth
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = DefaultImageHeight
	}
	if cfg.CameraRange <= 0 {
		cfg.CameraRange = DefaultCameraRange
	}
	if cfg.Bounds <= 0 {
		cfg.Bounds = 200
	}
	if c == nil {
		c = clock.Real{}
	}
	s := &Sim{
		cfg:      cfg,
		clock:    c,
		rand:     rand.New(rand.NewSource(cfg.Seed)),
		vehicles: make(map[string]*vehicle),
	}
	for _, o := range cfg.Objects {
		o := o
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		s.objects = append(s.objects, &o)
	}
	return s
}

// AddVehicle places a vehicle at pos.
func (s *Sim) AddVehicle(id string, pos swarm.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[id] = &vehicle{pos: pos}
}

// AddObject places a ground object at pos and returns its id.
func (s *Sim) AddObject(class string, pos swarm.Position) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := &Object{ID: uuid.New().String(), Class: class, Position: pos}
	s.objects = append(s.objects, o)
	return o.ID
}

// fail injects a link failure with the configured probability.
func (s *Sim) fail(op, id string) error {
	if s.cfg.FailureRate <= 0 || s.rand.Float64() >= s.cfg.FailureRate {
		return nil
	}
	cause := link.ErrTimeout
	if s.rand.Intn(2) == 0 {
		cause = link.ErrConnection
	}
	return link.Transient(op, id, cause)
}

// MoveTo flies a vehicle in a straight line at speed m/s. It blocks on the
// clock for the flight time and returns early when ctx is done, leaving
// the vehicle where it was.
func (s *Sim) MoveTo(ctx context.Context, agentID string, pos swarm.Position, speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("move %s: speed %.1f must be positive", agentID, speed)
	}
	s.mu.Lock()
	v, ok := s.vehicles[agentID]
	if !ok {
		s.mu.Unlock()
		return link.Transient("move", agentID, link.ErrConnection)
	}
	if err := s.fail("move", agentID); err != nil {
		s.mu.Unlock()
		return err
	}
	dist := v.pos.Distance(pos)
	s.mu.Unlock()

	flight := time.Duration(dist / speed * float64(time.Second))
	err := clock.Sleep(ctx, s.clock, flight)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return err
	}
	v.pos = pos
	if pos.Z <= impactRadius {
		for _, o := range s.objects {
			if !o.Neutralized && o.Position.Distance(pos) <= impactRadius {
				o.Neutralized = true
			}
		}
	}
	return nil
}

// GetPosition returns a vehicle's current position.
func (s *Sim) GetPosition(_ context.Context, agentID string) (swarm.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[agentID]
	if !ok {
		return swarm.Position{}, link.Transient("position", agentID, link.ErrConnection)
	}
	return v.pos, nil
}

// GetImage renders the objects under a vehicle's downward camera.
func (s *Sim) GetImage(_ context.Context, agentID string) (link.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[agentID]
	if !ok {
		return link.Frame{}, link.Transient("image", agentID, link.ErrConnection)
	}
	if err := s.fail("image", agentID); err != nil {
		return link.Frame{}, err
	}
	w, h := s.cfg.ImageWidth, s.cfg.ImageHeight
	scale := link.PixelScale(w)
	var sc scene
	for _, o := range s.objects {
		if o.Neutralized {
			continue
		}
		ground := swarm.Position{X: v.pos.X, Y: v.pos.Y}
		d := ground.Distance(swarm.Position{X: o.Position.X, Y: o.Position.Y})
		if d > s.cfg.CameraRange {
			continue
		}
		px, py, ok := link.WorldToImage(v.pos, w, h, scale, o.Position)
		if !ok {
			continue
		}
		half := sizeOf(o.Class) * scale / 2
		sc.Objects = append(sc.Objects, sceneObject{
			ObjectID:   o.ID,
			Class:      o.Class,
			Box:        link.Box{X1: px - half, Y1: py - half, X2: px + half, Y2: py + half},
			Visibility: 1 - d/s.cfg.CameraRange,
		})
	}
	data, err := encodeScene(sc)
	if err != nil {
		return link.Frame{}, err
	}
	return link.Frame{
		ID:         uuid.New().String(),
		AgentID:    agentID,
		Width:      w,
		Height:     h,
		Pose:       v.pos,
		CapturedAt: s.clock.Now(),
		Data:       data,
	}, nil
}

// sizeOf returns the rough footprint of a class in meters.
func sizeOf(class string) float64 {
	switch class {
	case "person":
		return 0.6
	case "motorcycle":
		return 2
	case "car":
		return 4.5
	case "bus", "truck":
		return 10
	default:
		return 1
	}
}

// Step moves every live object a little using a random walk, keeping it
// inside the bounds.
func (s *Sim) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.objects {
		if o.Neutralized {
			continue
		}
		o.Position.X = clamp(o.Position.X+s.rand.Float64()-0.5, s.cfg.Bounds)
		o.Position.Y = clamp(o.Position.Y+s.rand.Float64()-0.5, s.cfg.Bounds)
	}
}

func clamp(v, bound float64) float64 {
	return math.Max(-bound, math.Min(bound, v))
}

// Run steps the world every interval until ctx is done.
func (s *Sim) Run(ctx context.Context, interval time.Duration) error {
	for clock.Sleep(ctx, s.clock, interval) == nil {
		s.Step()
	}
	return nil
}

// Objects returns a copy of the ground objects.
func (s *Sim) Objects() []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, *o)
	}
	return out
}
