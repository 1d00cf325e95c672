package motion

import (
	"fmt"

	"homesec-ng/internal/imu"
)

// StopSamples is the number of consecutive stationary samples needed to
// declare the device stopped.
const StopSamples = 10

// MovementSettings tunes movement detection.
//
// A sample counts as movement when its acceleration magnitude (in g) falls
// outside [1-MovementInterval, 1+MovementInterval]. MinimumSamples
// consecutive movement samples switch the verdict to moving. A
// MinimumSamples of zero makes every sample report moving.
type MovementSettings struct {
	MinimumSamples   int
	MovementInterval float64
}

// DefaultMovementSettings is used until ConfigureMovementDetection is called.
var DefaultMovementSettings = MovementSettings{MinimumSamples: 3, MovementInterval: 0.1}

func (m MovementSettings) validate() error {
	if m.MinimumSamples < 0 {
		return fmt.Errorf("%w: minimum samples %d < 0", ErrConfiguration, m.MinimumSamples)
	}
	// The negated form also rejects NaN.
	if !(m.MovementInterval > 0 && m.MovementInterval < 1) {
		return fmt.Errorf("%w: movement interval %v not in (0,1)", ErrConfiguration, m.MovementInterval)
	}
	return nil
}

// hysteresis holds the debounce counters of one sensor.
type hysteresis struct {
	movementCount uint
	stopCount     uint
}

// detect runs one step of the movement detector.
//
// It returns the updated counters, the new verdict and whether this sample
// caused a stopped-to-moving transition. A magnitude exactly on either
// interval bound is neither movement nor stationary: both counters reset and
// the verdict carries over.
func detect(s imu.Sample, h hysteresis, cfg MovementSettings, moving bool) (hysteresis, bool, bool) {
	mag := s.AccelMagnitude()
	lo := 1 - cfg.MovementInterval
	hi := 1 + cfg.MovementInterval

	if mag < lo || mag > hi {
		h.movementCount++
	} else {
		h.movementCount = 0
	}

	started := false
	if h.movementCount >= uint(cfg.MinimumSamples) {
		h.stopCount = 0
		if !moving {
			started = true
		}
		moving = true
	}

	if mag > lo && mag < hi {
		h.stopCount++
	} else {
		h.stopCount = 0
	}

	if h.stopCount >= StopSamples {
		h.movementCount = 0
		moving = false
	}

	return h, moving, started
}
