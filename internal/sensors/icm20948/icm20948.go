package icm20948

import (
	"fmt"
	"math"
	"time"

	"homesec-ng/internal/i2c"
	"homesec-ng/internal/imu"
)

var sleep = time.Sleep

// Minimal ICM-20948 driver.
//
// Probe (WHO_AM_I at 0x00 returns 0xEA), accel/gyro configuration and burst
// reads. Offsets are kept in software and applied to raw counts on every read.

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regAccelXoutH = 0x2D // contiguous accel+gyro block
	regIntEnable  = 0x38

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	fsGyro250dps = 0x00
	fsAccel4g    = 0x02

	accelLSBPerG  = 32768.0 / 4.0
	gyroLSBPerDPS = 32768.0 / 250.0
)

// Calibration parameters.
var (
	calibrationSamples  = 200
	calibrationInterval = 5 * time.Millisecond
	// calibrationMaxTiltG bounds how far the averaged magnitude may be from
	// 1 g before calibration is refused.
	calibrationMaxTiltG = 0.15
)

type Device struct {
	dev i2c.RegIO

	curBank byte
	offsets imu.Offsets
}

var _ imu.Device = (*Device)(nil)

func DefaultAddress() uint16 { return addrDefault }

// New wraps dev without touching the bus; call Init before reading.
func New(dev i2c.RegIO) *Device {
	return &Device{dev: dev, curBank: 0xFF}
}

// Init probes WHO_AM_I, resets the chip and configures +-4 g / 250 deg/s at
// roughly 50 Hz output.
func (d *Device) Init() error {
	if d == nil || d.dev == nil {
		return fmt.Errorf("icm20948: dev is nil")
	}
	d.curBank = 0xFF

	if err := d.setBank(0); err != nil {
		return err
	}
	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset returns the chip to bank 0.
	d.curBank = 0

	// CLKSEL=1 selects the PLL when available.
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// Base rate is 1125 Hz; rate = 1125/(div+1).
	div := byte(1125/50 - 1)
	_ = d.dev.WriteReg(regGyroSmplrt, div)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)

	if err := d.dev.WriteReg(regGyroConfig, fsGyro250dps); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, fsAccel4g); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	return d.setBank(0)
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// readRaw returns ax, ay, az, gx, gy, gz in counts, without offsets.
func (d *Device) readRaw() ([6]int16, error) {
	var raw [6]int16
	if err := d.setBank(0); err != nil {
		return raw, err
	}
	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return raw, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}
	for i := range raw {
		raw[i] = int16(buf[2*i])<<8 | int16(buf[2*i+1])
	}
	return raw, nil
}

func (d *Device) Read() (imu.Sample, error) {
	if d == nil {
		return imu.Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	raw, err := d.readRaw()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("%w: %w", imu.ErrRead, err)
	}
	o := d.offsets
	return imu.Sample{
		Time: time.Now(),
		Ax:   (float64(raw[0]) + float64(o.Ax)) / accelLSBPerG,
		Ay:   (float64(raw[1]) + float64(o.Ay)) / accelLSBPerG,
		Az:   (float64(raw[2]) + float64(o.Az)) / accelLSBPerG,
		Gx:   (float64(raw[3]) + float64(o.Gx)) / gyroLSBPerDPS,
		Gy:   (float64(raw[4]) + float64(o.Gy)) / gyroLSBPerDPS,
		Gz:   (float64(raw[5]) + float64(o.Gz)) / gyroLSBPerDPS,
	}, nil
}

// Calibrate averages stationary readings with the Z axis pointing up and
// stores offsets that null the gyro and bring the accel to (0, 0, +1 g).
func (d *Device) Calibrate() (imu.Offsets, error) {
	if d == nil {
		return imu.Offsets{}, fmt.Errorf("icm20948: device is nil")
	}
	var sum [6]float64
	for i := 0; i < calibrationSamples; i++ {
		raw, err := d.readRaw()
		if err != nil {
			return imu.Offsets{}, fmt.Errorf("icm20948: calibration sample %d: %w", i, err)
		}
		for j, v := range raw {
			sum[j] += float64(v)
		}
		sleep(calibrationInterval)
	}
	var mean [6]float64
	for j := range sum {
		mean[j] = sum[j] / float64(calibrationSamples)
	}

	g := math.Sqrt(mean[0]*mean[0]+mean[1]*mean[1]+mean[2]*mean[2]) / accelLSBPerG
	if math.Abs(g-1) > calibrationMaxTiltG {
		return imu.Offsets{}, fmt.Errorf("icm20948: calibration saw %.2f g, keep the device still", g)
	}

	o := imu.Offsets{
		Ax: toOffset(-mean[0]),
		Ay: toOffset(-mean[1]),
		Az: toOffset(accelLSBPerG - mean[2]),
		Gx: toOffset(-mean[3]),
		Gy: toOffset(-mean[4]),
		Gz: toOffset(-mean[5]),
	}
	d.offsets = o
	return o, nil
}

func toOffset(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func (d *Device) Offsets() imu.Offsets { return d.offsets }

func (d *Device) SetOffsets(o imu.Offsets) error {
	d.offsets = o
	return nil
}
