package render

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
)

// Ranges bounds the randomized camera draws of a training step. Azimuth is
// always uniform over the full circle; elevation is measured from the
// horizontal plane.
type Ranges struct {
	DistanceMin     float64
	DistanceMax     float64
	FOVMinDeg       float64
	FOVMaxDeg       float64
	ElevationMinDeg float64
	ElevationMaxDeg float64
}

func (r Ranges) Validate(radius float64) error {
	if r.DistanceMin <= 0 || r.DistanceMax < r.DistanceMin {
		return fmt.Errorf("invalid camera distance range [%g, %g]", r.DistanceMin, r.DistanceMax)
	}
	if r.DistanceMin <= radius {
		return fmt.Errorf("camera distance %g must exceed scene radius %g", r.DistanceMin, radius)
	}
	if r.FOVMinDeg <= 0 || r.FOVMaxDeg >= 180 || r.FOVMaxDeg < r.FOVMinDeg {
		return fmt.Errorf("invalid field-of-view range [%g, %g]", r.FOVMinDeg, r.FOVMaxDeg)
	}
	if r.ElevationMinDeg < -90 || r.ElevationMaxDeg > 90 || r.ElevationMaxDeg < r.ElevationMinDeg {
		return fmt.Errorf("invalid elevation range [%g, %g]", r.ElevationMinDeg, r.ElevationMaxDeg)
	}
	return nil
}

// Camera is a pinhole camera looking at the origin with +z up.
type Camera struct {
	Eye    mgl64.Vec3
	FOVDeg float64
	Near   float64
	Far    float64
}

func cameraAt(distance, elevationDeg, azimuthDeg, fovDeg, radius float64) Camera {
	el := elevationDeg * math.Pi / 180
	az := azimuthDeg * math.Pi / 180
	eye := mgl64.Vec3{
		distance * math.Cos(el) * math.Cos(az),
		distance * math.Cos(el) * math.Sin(az),
		distance * math.Sin(el),
	}
	near := distance - radius
	if near < 0.05 {
		near = 0.05
	}
	return Camera{Eye: eye, FOVDeg: fovDeg, Near: near, Far: distance + radius}
}

// SampleCamera draws one training camera from the configured ranges.
func SampleCamera(r Ranges, radius float64, rng *rand.Rand) Camera {
	distance := r.DistanceMin + (r.DistanceMax-r.DistanceMin)*rng.Float64()
	elevation := r.ElevationMinDeg + (r.ElevationMaxDeg-r.ElevationMinDeg)*rng.Float64()
	azimuth := 360 * rng.Float64()
	fov := r.FOVMinDeg + (r.FOVMaxDeg-r.FOVMinDeg)*rng.Float64()
	return cameraAt(distance, elevation, azimuth, fov, radius)
}

// EvalCamera is the fixed held-out view used for periodic evaluation
// renders: mid-range distance and field of view, mid elevation, fixed
// azimuth.
func EvalCamera(r Ranges, radius float64) Camera {
	return cameraAt(
		(r.DistanceMin+r.DistanceMax)/2,
		(r.ElevationMinDeg+r.ElevationMaxDeg)/2,
		30,
		(r.FOVMinDeg+r.FOVMaxDeg)/2,
		radius,
	)
}

// Ray is one camera ray with sampling bounds; it lives for a single render
// call.
type Ray struct {
	Origin mgl64.Vec3
	Dir    mgl64.Vec3
	Near   float64
	Far    float64
}

// Rays builds the pixel rays in row-major order.
func (c Camera) Rays(width, height int) []Ray {
	forward := c.Eye.Mul(-1).Normalize()
	worldUp := mgl64.Vec3{0, 0, 1}
	if math.Abs(forward.Dot(worldUp)) > 0.999 {
		worldUp = mgl64.Vec3{0, 1, 0}
	}
	right := forward.Cross(worldUp).Normalize()
	up := right.Cross(forward)

	tanHalf := math.Tan(c.FOVDeg * math.Pi / 360)
	aspect := float64(width) / float64(height)

	rays := make([]Ray, 0, width*height)
	for py := 0; py < height; py++ {
		sy := (1 - 2*(float64(py)+0.5)/float64(height)) * tanHalf
		for px := 0; px < width; px++ {
			sx := (2*(float64(px)+0.5)/float64(width) - 1) * tanHalf * aspect
			dir := forward.Add(right.Mul(sx)).Add(up.Mul(sy)).Normalize()
			rays = append(rays, Ray{Origin: c.Eye, Dir: dir, Near: c.Near, Far: c.Far})
		}
	}
	return rays
}
