// Package link defines the boundary to the flight-control link and the
// detection engine, and the errors they report.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hiveops/internal/swarm"
)

var (
	// ErrTimeout is reported when a vehicle does not acknowledge a command in time.
	ErrTimeout = errors.New("link timeout")
	// ErrConnection is reported when the vehicle cannot be reached.
	ErrConnection = errors.New("link connection lost")
)

// Frame is one camera image taken by an agent.
type Frame struct {
	ID         string
	AgentID    string
	Width      int
	Height     int
	Pose       swarm.Position
	CapturedAt time.Time
	Data       []byte
}

// Box is an image-space bounding box in pixels.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Center returns the middle of the box.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Detection is one labeled object found in a frame.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// FlightLink moves vehicles and reads their sensors. Calls may block for
// the duration of the movement and must honor ctx.
type FlightLink interface {
	MoveTo(ctx context.Context, agentID string, pos swarm.Position, speed float64) error
	GetImage(ctx context.Context, agentID string) (Frame, error)
	GetPosition(ctx context.Context, agentID string) (swarm.Position, error)
}

// Detector runs object detection on a frame and returns detections at or
// above threshold.
type Detector interface {
	Infer(ctx context.Context, frame Frame, threshold float64) ([]Detection, error)
}

// TransientLinkError wraps a recoverable link failure.
type TransientLinkError struct {
	Op      string
	AgentID string
	Err     error
}

func (e *TransientLinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.AgentID, e.Err)
}

func (e *TransientLinkError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientLinkError.
func Transient(op, agentID string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientLinkError{Op: op, AgentID: agentID, Err: err}
}

// IsTransient reports whether err is a retryable link failure.
func IsTransient(err error) bool {
	var te *TransientLinkError
	return errors.As(err, &te)
}

// DetectionError wraps an inference failure for one frame.
type DetectionError struct {
	FrameID string
	Err     error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect frame %s: %v", e.FrameID, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }
