package mpu6050

import (
	"fmt"
	"math"
	"time"

	"homesec-ng/internal/i2c"
	"homesec-ng/internal/imu"
)

var sleep = time.Sleep

// MPU-6050 driver.
//
// Accel +-2 g, gyro +-250 deg/s, DLPF at 44 Hz. Offsets live in the chip's
// offset registers, so Read returns corrected values without further math.
//
// Register units differ from the data registers: accel offsets count in
// +-16 g LSB (8 data LSB each), gyro offsets in +-1000 deg/s LSB (4 data LSB
// each).

const (
	addrDefault = 0x68

	regXAOffsH   = 0x06
	regYAOffsH   = 0x08
	regZAOffsH   = 0x0A
	regXGOffsH   = 0x13
	regYGOffsH   = 0x15
	regZGOffsH   = 0x17
	regSmplrtDiv = 0x19
	regConfig    = 0x1A
	regGyroCfg   = 0x1B
	regAccelCfg  = 0x1C
	regAccelXH   = 0x3B // accel, temp, gyro: 14 bytes
	regPwrMgmt1  = 0x6B
	regWhoAmI    = 0x75

	whoAmIVal = 0x68
	bitReset  = 0x80
	clkPLLX   = 0x01
	dlpf44Hz  = 0x03

	accelLSBPerG  = 16384.0
	gyroLSBPerDPS = 131.0

	accelOffsetStep = 8
	gyroOffsetStep  = 4
)

// Calibration parameters.
var (
	calibrationSamples  = 100
	calibrationPasses   = 3
	calibrationInterval = 5 * time.Millisecond
	calibrationMaxTiltG = 0.15
)

var offsetRegs = [6]byte{regXAOffsH, regYAOffsH, regZAOffsH, regXGOffsH, regYGOffsH, regZGOffsH}

type Device struct {
	dev     i2c.RegIO
	offsets imu.Offsets
}

var _ imu.Device = (*Device)(nil)

func DefaultAddress() uint16 { return addrDefault }

// New wraps dev without touching the bus; call Init before reading.
func New(dev i2c.RegIO) *Device {
	return &Device{dev: dev}
}

func (d *Device) Init() error {
	if d == nil || d.dev == nil {
		return fmt.Errorf("mpu6050: dev is nil")
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return fmt.Errorf("mpu6050: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("mpu6050: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("mpu6050: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	if err := d.dev.WriteReg(regPwrMgmt1, clkPLLX); err != nil {
		return fmt.Errorf("mpu6050: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// 1 kHz / (1+19) = 50 Hz with the DLPF enabled.
	for _, w := range [][2]byte{
		{regSmplrtDiv, 19},
		{regConfig, dlpf44Hz},
		{regGyroCfg, 0x00},
		{regAccelCfg, 0x00},
	} {
		if err := d.dev.WriteReg(w[0], w[1]); err != nil {
			return fmt.Errorf("mpu6050: write reg 0x%02X failed: %w", w[0], err)
		}
	}

	// Reset restores factory accel trims; start from what the chip holds.
	o, err := d.readOffsets()
	if err != nil {
		return err
	}
	d.offsets = o
	return nil
}

func (d *Device) readOffsets() (imu.Offsets, error) {
	var v [6]int16
	var buf [2]byte
	for i, reg := range offsetRegs {
		if err := d.dev.ReadReg(reg, buf[:]); err != nil {
			return imu.Offsets{}, fmt.Errorf("mpu6050: read offset reg 0x%02X: %w", reg, err)
		}
		v[i] = int16(buf[0])<<8 | int16(buf[1])
	}
	return imu.Offsets{Ax: v[0], Ay: v[1], Az: v[2], Gx: v[3], Gy: v[4], Gz: v[5]}, nil
}

func (d *Device) writeOffsets(o imu.Offsets) error {
	v := [6]int16{o.Ax, o.Ay, o.Az, o.Gx, o.Gy, o.Gz}
	for i, reg := range offsetRegs {
		u := uint16(v[i])
		if err := d.dev.WriteReg(reg, byte(u>>8)); err != nil {
			return fmt.Errorf("mpu6050: write offset reg 0x%02X: %w", reg, err)
		}
		if err := d.dev.WriteReg(reg+1, byte(u)); err != nil {
			return fmt.Errorf("mpu6050: write offset reg 0x%02X: %w", reg+1, err)
		}
	}
	return nil
}

// readRaw returns ax, ay, az, gx, gy, gz in counts.
func (d *Device) readRaw() ([6]int16, error) {
	var raw [6]int16
	var buf [14]byte
	if err := d.dev.ReadReg(regAccelXH, buf[:]); err != nil {
		return raw, fmt.Errorf("mpu6050: read sensors failed: %w", err)
	}
	be := func(i int) int16 { return int16(buf[i])<<8 | int16(buf[i+1]) }
	raw[0], raw[1], raw[2] = be(0), be(2), be(4)
	// Bytes 6-7 hold the die temperature.
	raw[3], raw[4], raw[5] = be(8), be(10), be(12)
	return raw, nil
}

func (d *Device) Read() (imu.Sample, error) {
	if d == nil || d.dev == nil {
		return imu.Sample{}, fmt.Errorf("mpu6050: device is nil")
	}
	raw, err := d.readRaw()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: %w", imu.ErrRead, err)
	}
	return imu.Sample{
		Time: time.Now(),
		Ax:   float64(raw[0]) / accelLSBPerG,
		Ay:   float64(raw[1]) / accelLSBPerG,
		Az:   float64(raw[2]) / accelLSBPerG,
		Gx:   float64(raw[3]) / gyroLSBPerDPS,
		Gy:   float64(raw[4]) / gyroLSBPerDPS,
		Gz:   float64(raw[5]) / gyroLSBPerDPS,
	}, nil
}

func (d *Device) mean() ([6]float64, error) {
	var sum [6]float64
	for i := 0; i < calibrationSamples; i++ {
		raw, err := d.readRaw()
		if err != nil {
			return sum, fmt.Errorf("mpu6050: calibration sample %d: %w", i, err)
		}
		for j, v := range raw {
			sum[j] += float64(v)
		}
		sleep(calibrationInterval)
	}
	for j := range sum {
		sum[j] /= float64(calibrationSamples)
	}
	return sum, nil
}

// Calibrate levels the chip with Z pointing up. Each pass averages a batch of
// samples and folds the remaining error into the offset registers. On error
// the previous offsets are restored.
func (d *Device) Calibrate() (imu.Offsets, error) {
	if d == nil || d.dev == nil {
		return imu.Offsets{}, fmt.Errorf("mpu6050: device is nil")
	}
	prev := d.offsets
	o := prev
	for pass := 0; pass < calibrationPasses; pass++ {
		m, err := d.mean()
		if err != nil {
			d.restore(prev)
			return imu.Offsets{}, err
		}
		if pass == 0 {
			g := math.Sqrt(m[0]*m[0]+m[1]*m[1]+m[2]*m[2]) / accelLSBPerG
			if math.Abs(g-1) > calibrationMaxTiltG {
				return imu.Offsets{}, fmt.Errorf("mpu6050: calibration saw %.2f g, keep the device still", g)
			}
		}
		o = imu.Offsets{
			Ax: keepReserved(adjust(o.Ax, m[0], accelOffsetStep), prev.Ax),
			Ay: keepReserved(adjust(o.Ay, m[1], accelOffsetStep), prev.Ay),
			Az: keepReserved(adjust(o.Az, m[2]-accelLSBPerG, accelOffsetStep), prev.Az),
			Gx: adjust(o.Gx, m[3], gyroOffsetStep),
			Gy: adjust(o.Gy, m[4], gyroOffsetStep),
			Gz: adjust(o.Gz, m[5], gyroOffsetStep),
		}
		if err := d.writeOffsets(o); err != nil {
			d.restore(prev)
			return imu.Offsets{}, err
		}
		d.offsets = o
	}
	return o, nil
}

func (d *Device) restore(o imu.Offsets) {
	if err := d.writeOffsets(o); err == nil {
		d.offsets = o
	}
}

// adjust subtracts an error measured in data LSB from a register value
// counted in step-sized units.
func adjust(cur int16, errLSB float64, step float64) int16 {
	v := math.Round(float64(cur) - errLSB/step)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// keepReserved carries bit 0 of an accel offset register over from prev.
// The bit is reserved and must not change.
func keepReserved(v, prev int16) int16 {
	return v&^1 | prev&1
}

func (d *Device) Offsets() imu.Offsets { return d.offsets }

func (d *Device) SetOffsets(o imu.Offsets) error {
	if d == nil || d.dev == nil {
		return fmt.Errorf("mpu6050: device is nil")
	}
	if err := d.writeOffsets(o); err != nil {
		return err
	}
	d.offsets = o
	return nil
}
