package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"homesec-ng/internal/config"
	"homesec-ng/internal/i2c"
	"homesec-ng/internal/imu"
	"homesec-ng/internal/indicator"
	"homesec-ng/internal/motion"
	"homesec-ng/internal/offsetstore"
	"homesec-ng/internal/sensors/icm20948"
	"homesec-ng/internal/sensors/mpu6050"
)

var openDevFn = i2c.OpenDev

// newDeviceFn builds the driver named in the config on top of rio.
var newDeviceFn = func(driver string, rio i2c.RegIO) (imu.Device, error) {
	switch driver {
	case config.DriverICM20948:
		return icm20948.New(rio), nil
	case config.DriverMPU6050:
		return mpu6050.New(rio), nil
	default:
		return nil, fmt.Errorf("unknown imu driver %q", driver)
	}
}

func defaultAddress(driver string) uint16 {
	if driver == config.DriverMPU6050 {
		return mpu6050.DefaultAddress()
	}
	return icm20948.DefaultAddress()
}

type deviceRuntime struct {
	bus       io.Closer
	sensor    *motion.Sensor
	indicator *indicator.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRuntime(ctx context.Context, cfg config.Config) (*deviceRuntime, error) {
	addr := cfg.IMU.Address
	if addr == 0 {
		addr = defaultAddress(cfg.IMU.Driver)
	}
	rio, bus, err := openDevFn(cfg.IMU.Backend, cfg.IMU.Bus, addr)
	if err != nil {
		return nil, err
	}
	dev, err := newDeviceFn(cfg.IMU.Driver, rio)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	sensor, err := motion.New(dev, motion.Config{
		Name:        cfg.IMU.Driver,
		HistorySize: cfg.IMU.HistorySize,
		Movement: motion.MovementSettings{
			MinimumSamples:   cfg.Movement.MinimumSamples,
			MovementInterval: cfg.Movement.Interval,
		},
	})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	log.Printf("imu %s ready bus=%s addr=0x%02X", cfg.IMU.Driver, cfg.IMU.Bus, addr)

	if err := prepareOffsets(sensor, cfg.IMU, time.Now()); err != nil {
		// Sampling still works with the device's current offsets.
		log.Printf("imu offsets: %v", err)
	}
	log.Printf("imu offsets %s", sensor.CurrentOffsets())

	ctx, cancel := context.WithCancel(ctx)
	r := &deviceRuntime{bus: bus, sensor: sensor, cancel: cancel}

	states := sensor.Subscribe(8)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logTransitions(ctx, sensor, states)
	}()

	if err := sensor.Start(ctx, cfg.IMU.SampleInterval); err != nil {
		r.Close()
		return nil, err
	}

	if cfg.Indicator.Enable {
		svc := indicator.New(indicator.Config{
			Enable:       true,
			Pin:          cfg.Indicator.Pin,
			ActiveLow:    cfg.Indicator.ActiveLow,
			PollInterval: cfg.Indicator.PollInterval,
		}, sensor)
		if err := svc.Start(ctx); err != nil {
			log.Printf("indicator init failed: %v", err)
		} else {
			r.indicator = svc
		}
	}
	return r, nil
}

// prepareOffsets either calibrates (persisting the result) or restores
// previously saved offsets.
func prepareOffsets(sensor *motion.Sensor, cfg config.IMUConfig, now time.Time) error {
	if cfg.CalibrateOnStart {
		o, err := sensor.Calibrate()
		if err != nil {
			return err
		}
		if cfg.OffsetsPath == "" {
			return nil
		}
		if err := offsetstore.Save(cfg.OffsetsPath, cfg.Driver, o, now); err != nil {
			return err
		}
		log.Printf("imu offsets saved path=%s", cfg.OffsetsPath)
		return nil
	}

	if cfg.OffsetsPath == "" {
		return nil
	}
	o, err := offsetstore.Load(cfg.OffsetsPath, cfg.Driver)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("imu no saved offsets at %s; using device defaults", cfg.OffsetsPath)
		return nil
	}
	if err != nil {
		return err
	}
	return sensor.SetOffsets(o)
}

func logTransitions(ctx context.Context, sensor *motion.Sensor, states <-chan motion.DeviceState) {
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			if st == motion.StateMoving {
				log.Printf("movement detected since=%s", sensor.MovementData().StartTime.UTC().Format(time.RFC3339Nano))
				continue
			}
			snap := sensor.Snapshot()
			log.Printf("movement stopped cycles=%d read_failures=%d", snap.Cycles, snap.ReadFailures)
		}
	}
}

// Close stops sampling and releases the indicator and the bus.
func (r *deviceRuntime) Close() {
	if r == nil {
		return
	}
	r.cancel()
	if r.indicator != nil {
		r.indicator.Close()
		r.indicator = nil
	}
	if r.sensor != nil {
		r.sensor.Stop()
	}
	r.wg.Wait()
	if r.bus != nil {
		_ = r.bus.Close()
		r.bus = nil
	}
}
