package link

import (
	"math"

	"hiveops/internal/swarm"
)

// PixelScale returns pixels per meter on the ground for an image width.
func PixelScale(width int) float64 {
	return math.Max(float64(width)/50, 10)
}

// ImageToWorld projects the center of box onto the ground plane below the
// camera pose. The image center maps to the pose itself.
func ImageToWorld(pose swarm.Position, width, height int, scale float64, box Box) swarm.Position {
	cx, cy := box.Center()
	return swarm.Position{
		X: pose.X + (cx-float64(width)/2)/scale,
		Y: pose.Y + (cy-float64(height)/2)/scale,
	}
}

// WorldToImage is the inverse of ImageToWorld. ok is false when p falls
// outside the frame.
func WorldToImage(pose swarm.Position, width, height int, scale float64, p swarm.Position) (px, py float64, ok bool) {
	px = (p.X-pose.X)*scale + float64(width)/2
	py = (p.Y-pose.Y)*scale + float64(height)/2
	ok = px >= 0 && py >= 0 && px < float64(width) && py < float64(height)
	return px, py, ok
}
