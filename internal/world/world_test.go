package world

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"hiveops/internal/clock"
	"hiveops/internal/link"
	"hiveops/internal/swarm"
)

func TestMoveToTakesFlightTime(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sim := New(Config{Seed: 1}, fc)
	sim.AddVehicle("patrol-1", swarm.Position{})

	done := make(chan error, 1)
	go func() {
		done <- sim.MoveTo(context.Background(), "patrol-1", swarm.Position{X: 80}, 8)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntil(ctx, 1); err != nil {
		t.Fatalf("move never waited on the clock: %v", err)
	}
	fc.Advance(9 * time.Second)
	select {
	case <-done:
		t.Fatalf("move finished before flight time")
	default:
	}
	if pos, _ := sim.GetPosition(context.Background(), "patrol-1"); pos.X != 0 {
		t.Fatalf("vehicle moved early: %+v", pos)
	}
	fc.Advance(time.Second)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
	if pos, _ := sim.GetPosition(context.Background(), "patrol-1"); pos.X != 80 {
		t.Fatalf("vehicle not at target: %+v", pos)
	}
}

func TestMoveToCancelled(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sim := New(Config{}, fc)
	sim.AddVehicle("strike-1", swarm.Position{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sim.MoveTo(ctx, "strike-1", swarm.Position{X: 10}, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMoveToUnknownVehicle(t *testing.T) {
	sim := New(Config{}, clock.NewFake(time.Unix(0, 0)))
	err := sim.MoveTo(context.Background(), "ghost", swarm.Position{}, 5)
	if !link.IsTransient(err) || !errors.Is(err, link.ErrConnection) {
		t.Fatalf("expected transient connection error, got %v", err)
	}
}

func TestFailureInjection(t *testing.T) {
	sim := New(Config{Seed: 3, FailureRate: 1}, clock.NewFake(time.Unix(0, 0)))
	sim.AddVehicle("patrol-1", swarm.Position{})
	if err := sim.MoveTo(context.Background(), "patrol-1", swarm.Position{X: 1}, 1); !link.IsTransient(err) {
		t.Fatalf("expected transient move failure, got %v", err)
	}
	if _, err := sim.GetImage(context.Background(), "patrol-1"); !link.IsTransient(err) {
		t.Fatalf("expected transient image failure, got %v", err)
	}
}

func TestImageAndDetection(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sim := New(Config{Seed: 7, Objects: []Object{
		{ID: "car-1", Class: "car", Position: swarm.Position{X: 5, Y: -3}},
		{ID: "far", Class: "truck", Position: swarm.Position{X: 500}},
	}}, fc)
	pose := swarm.Position{X: 0, Y: 0, Z: 15}
	sim.AddVehicle("patrol-1", pose)

	frame, err := sim.GetImage(context.Background(), "patrol-1")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if frame.ID == "" || frame.Width != DefaultImageWidth || frame.Pose != pose {
		t.Fatalf("unexpected frame %+v", frame)
	}

	dets, err := NewDetector(1, 0).Infer(context.Background(), frame, 0.5)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(dets) != 1 || dets[0].Class != "car" {
		t.Fatalf("expected one car, got %+v", dets)
	}
	pos := link.ImageToWorld(frame.Pose, frame.Width, frame.Height, link.PixelScale(frame.Width), dets[0].Box)
	if math.Abs(pos.X-5) > 1e-6 || math.Abs(pos.Y+3) > 1e-6 {
		t.Fatalf("projected position %+v", pos)
	}
}

func TestDetectorThresholdAndFailure(t *testing.T) {
	sim := New(Config{Objects: []Object{{Class: "person", Position: swarm.Position{X: 1}}}}, clock.NewFake(time.Unix(0, 0)))
	sim.AddVehicle("patrol-1", swarm.Position{Z: 15})
	frame, err := sim.GetImage(context.Background(), "patrol-1")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	dets, err := NewDetector(1, 0).Infer(context.Background(), frame, 0.995)
	if err != nil || len(dets) != 0 {
		t.Fatalf("expected nothing above 0.995, got %+v %v", dets, err)
	}
	_, err = NewDetector(1, 1).Infer(context.Background(), frame, 0.5)
	var de *link.DetectionError
	if !errors.As(err, &de) || de.FrameID != frame.ID {
		t.Fatalf("expected DetectionError, got %v", err)
	}
	_, err = NewDetector(1, 0).Infer(context.Background(), link.Frame{ID: "junk", Data: []byte{0xff}}, 0.5)
	if !errors.As(err, &de) {
		t.Fatalf("expected DetectionError for bad payload, got %v", err)
	}
}

func TestStrikeNeutralizesObject(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sim := New(Config{Objects: []Object{{ID: "bus-1", Class: "bus", Position: swarm.Position{X: 20, Y: 20}}}}, fc)
	sim.AddVehicle("strike-1", swarm.Position{X: 20, Y: 20, Z: 10})
	done := make(chan error, 1)
	go func() {
		done <- sim.MoveTo(context.Background(), "strike-1", swarm.Position{X: 20, Y: 20}, 10)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fc.BlockUntil(ctx, 1); err != nil {
		t.Fatalf("move never waited on the clock: %v", err)
	}
	fc.Advance(time.Second)
	if err := <-done; err != nil {
		t.Fatalf("move: %v", err)
	}
	objs := sim.Objects()
	if !objs[0].Neutralized {
		t.Fatalf("object should be neutralized")
	}
}

func TestStepStaysInBounds(t *testing.T) {
	sim := New(Config{Seed: 9, Bounds: 1, Objects: []Object{{Class: "car", Position: swarm.Position{X: 1, Y: -1}}}}, clock.NewFake(time.Unix(0, 0)))
	for i := 0; i < 100; i++ {
		sim.Step()
	}
	o := sim.Objects()[0]
	if math.Abs(o.Position.X) > 1 || math.Abs(o.Position.Y) > 1 {
		t.Fatalf("object left bounds: %+v", o.Position)
	}
}

func TestAddObject(t *testing.T) {
	sim := New(Config{Seed: 1}, clock.NewFake(time.Unix(0, 0)))
	id := sim.AddObject("truck", swarm.Position{X: 3, Y: 4})
	objs := sim.Objects()
	if len(objs) != 1 || objs[0].ID != id || objs[0].Class != "truck" || objs[0].Position.X != 3 {
		t.Fatalf("unexpected objects %+v", objs)
	}
}
