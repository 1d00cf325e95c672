// Package imu holds the value types shared between IMU drivers and the
// motion engine, and the capability contract every driver implements.
package imu

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRead marks a failed single-sample read. Drivers wrap their bus errors
// with it so callers can tell a transient read failure from other errors.
var ErrRead = errors.New("imu: read failed")

// Sample is one timestamped six-axis reading.
//
// Acceleration is expressed in g, so a device at rest reports a magnitude
// of 1.0. Angular rate is in deg/s.
type Sample struct {
	Time time.Time

	Ax, Ay, Az float64
	Gx, Gy, Gz float64
}

// AccelMagnitude returns the Euclidean norm of the acceleration vector.
func (s Sample) AccelMagnitude() float64 {
	return math.Sqrt(s.Ax*s.Ax + s.Ay*s.Ay + s.Az*s.Az)
}

// Offsets are per-axis corrections in raw device LSB.
type Offsets struct {
	Ax int16 `yaml:"accel_x"`
	Ay int16 `yaml:"accel_y"`
	Az int16 `yaml:"accel_z"`
	Gx int16 `yaml:"gyro_x"`
	Gy int16 `yaml:"gyro_y"`
	Gz int16 `yaml:"gyro_z"`
}

func (o Offsets) String() string {
	return fmt.Sprintf("accel=[%d %d %d] gyro=[%d %d %d]", o.Ax, o.Ay, o.Az, o.Gx, o.Gy, o.Gz)
}

// Device is the capability contract of a physical IMU.
//
// Read must return acceleration in g. Offsets set through SetOffsets apply to
// every Read that starts after SetOffsets returns. Implementations are not
// required to be safe for concurrent use.
type Device interface {
	Init() error
	Read() (Sample, error)
	Calibrate() (Offsets, error)
	Offsets() Offsets
	SetOffsets(Offsets) error
}
