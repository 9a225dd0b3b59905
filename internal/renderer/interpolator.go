package renderer

import "time"

// Easing maps linear progress in [0,1] to eased progress.
type Easing func(t float64) float64

// Track is one property of one object moving from From to To.
type Track struct {
	UUID     string
	Property string // "left" or "top"
	From     float64
	To       float64
}

// Value returns the track value at eased progress t.
func (tr Track) Value(t float64) float64 {
	return lerp(tr.From, tr.To, t)
}

// FrameCount returns how many frames a tween of duration spans at the given
// frame interval, at least one.
func FrameCount(duration, frameInterval time.Duration) int {
	if frameInterval <= 0 || duration <= 0 {
		return 1
	}
	n := int((duration + frameInterval - 1) / frameInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// Linear applies no easing.
func Linear(t float64) float64 { return clamp01(t) }

// EaseInOutCubic applies smooth in-out easing.
func EaseInOutCubic(t float64) float64 {
	t = clamp01(t)
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - pow(-2*t+2, 3)/2
}

// lerp performs linear interpolation between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// pow calculates x^n
func pow(x float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= x
	}
	return result
}
