package world

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"

	"hiveops/internal/link"
)

var errInference = errors.New("inference failed")

// Detector implements link.Detector for simulated frames. Confidence
// falls off toward the edge of the camera footprint with a little noise.
type Detector struct {
	mu          sync.Mutex
	rand        *rand.Rand
	failureRate float64
}

// NewDetector returns a detector that fails a frame with probability
// failureRate.
func NewDetector(seed int64, failureRate float64) *Detector {
	return &Detector{rand: rand.New(rand.NewSource(seed)), failureRate: failureRate}
}

// Infer decodes the frame and returns detections at or above threshold,
// most confident first.
func (d *Detector) Infer(ctx context.Context, frame link.Frame, threshold float64) ([]link.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sc, err := decodeScene(frame.Data)
	if err != nil {
		return nil, &link.DetectionError{FrameID: frame.ID, Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failureRate > 0 && d.rand.Float64() < d.failureRate {
		return nil, &link.DetectionError{FrameID: frame.ID, Err: errInference}
	}
	var out []link.Detection
	for _, o := range sc.Objects {
		conf := 0.55 + 0.4*o.Visibility + (d.rand.Float64()-0.5)*0.1
		if conf > 1 {
			conf = 1
		}
		if conf < threshold {
			continue
		}
		out = append(out, link.Detection{Class: o.Class, Confidence: conf, Box: o.Box})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}
