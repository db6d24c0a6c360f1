package agent

import (
	"math"

	"hiveops/internal/swarm"
)

// Circle describes a circular patrol route.
type Circle struct {
	Center   swarm.Position
	Radius   float64
	Altitude float64
	Count    int
}

// Waypoints returns Count points evenly spaced on the circle, counter
// clockwise from the positive X axis, at the route altitude.
func (c Circle) Waypoints() []swarm.Position {
	if c.Count <= 0 {
		return nil
	}
	out := make([]swarm.Position, c.Count)
	step := 2 * math.Pi / float64(c.Count)
	for i := range out {
		a := step * float64(i)
		out[i] = swarm.Position{
			X: c.Center.X + c.Radius*math.Cos(a),
			Y: c.Center.Y + c.Radius*math.Sin(a),
			Z: c.Altitude,
		}
	}
	return out
}

// StaggeredStart spreads n patrol units evenly around a route of count
// waypoints and returns the start index for unit k.
func StaggeredStart(k, n, count int) int {
	if n <= 0 || count <= 0 {
		return 0
	}
	return (k * count / n) % count
}
