package main

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"homesec-ng/internal/config"
	"homesec-ng/internal/i2c"
	"homesec-ng/internal/imu"
	"homesec-ng/internal/motion"
	"homesec-ng/internal/offsetstore"
)

type fakeDevice struct {
	mu         sync.Mutex
	offsets    imu.Offsets
	calOffsets imu.Offsets
	calErr     error
	calls      int
}

func (f *fakeDevice) Init() error { return nil }

func (f *fakeDevice) Read() (imu.Sample, error) {
	return imu.Sample{Az: 1}, nil
}

func (f *fakeDevice) Calibrate() (imu.Offsets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calErr != nil {
		return imu.Offsets{}, f.calErr
	}
	f.offsets = f.calOffsets
	return f.offsets, nil
}

func (f *fakeDevice) Offsets() imu.Offsets {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offsets
}

func (f *fakeDevice) SetOffsets(o imu.Offsets) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = o
	return nil
}

type fakeBus struct{ closed atomic.Bool }

func (b *fakeBus) Close() error {
	b.closed.Store(true)
	return nil
}

func newFakeSensor(t *testing.T, dev *fakeDevice) *motion.Sensor {
	t.Helper()
	s, err := motion.New(dev, motion.Config{})
	if err != nil {
		t.Fatalf("motion.New: %v", err)
	}
	return s
}

func TestPrepareOffsets_CalibratesAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	dev := &fakeDevice{calOffsets: imu.Offsets{Ax: 10, Gz: -3}}
	s := newFakeSensor(t, dev)

	cfg := config.IMUConfig{Driver: config.DriverMPU6050, CalibrateOnStart: true, OffsetsPath: path}
	if err := prepareOffsets(s, cfg, time.Now()); err != nil {
		t.Fatalf("prepareOffsets: %v", err)
	}
	got, err := offsetstore.Load(path, config.DriverMPU6050)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != dev.calOffsets {
		t.Fatalf("saved=%v want %v", got, dev.calOffsets)
	}
}

func TestPrepareOffsets_CalibrationFailureKeepsOffsets(t *testing.T) {
	dev := &fakeDevice{offsets: imu.Offsets{Gx: 4}, calErr: errors.New("moving")}
	s := newFakeSensor(t, dev)

	err := prepareOffsets(s, config.IMUConfig{Driver: config.DriverMPU6050, CalibrateOnStart: true}, time.Now())
	if !errors.Is(err, motion.ErrCalibration) {
		t.Fatalf("err=%v want ErrCalibration", err)
	}
	if dev.Offsets() != (imu.Offsets{Gx: 4}) {
		t.Fatalf("offsets=%v", dev.Offsets())
	}
}

func TestPrepareOffsets_RestoresSaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	want := imu.Offsets{Ay: 7, Gy: -9}
	if err := offsetstore.Save(path, config.DriverICM20948, want, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	dev := &fakeDevice{}
	s := newFakeSensor(t, dev)

	if err := prepareOffsets(s, config.IMUConfig{Driver: config.DriverICM20948, OffsetsPath: path}, time.Now()); err != nil {
		t.Fatalf("prepareOffsets: %v", err)
	}
	if dev.Offsets() != want {
		t.Fatalf("offsets=%v want %v", dev.Offsets(), want)
	}
	if dev.calls != 0 {
		t.Fatalf("calibrate called %d times", dev.calls)
	}
}

func TestPrepareOffsets_MissingFileIsNotAnError(t *testing.T) {
	dev := &fakeDevice{}
	s := newFakeSensor(t, dev)
	cfg := config.IMUConfig{Driver: config.DriverICM20948, OffsetsPath: filepath.Join(t.TempDir(), "none.yaml")}
	if err := prepareOffsets(s, cfg, time.Now()); err != nil {
		t.Fatalf("prepareOffsets: %v", err)
	}
}

func TestNewRuntime_SamplesAndCloses(t *testing.T) {
	dev := &fakeDevice{}
	bus := &fakeBus{}
	var gotAddr uint16
	var gotBackend, gotBus string

	oldOpen, oldNew := openDevFn, newDeviceFn
	openDevFn = func(backend, busName string, addr uint16) (i2c.RegIO, io.Closer, error) {
		gotBackend, gotBus, gotAddr = backend, busName, addr
		return nil, bus, nil
	}
	newDeviceFn = func(driver string, rio i2c.RegIO) (imu.Device, error) { return dev, nil }
	t.Cleanup(func() { openDevFn, newDeviceFn = oldOpen, oldNew })

	cfg := config.Default()
	cfg.IMU.Driver = config.DriverMPU6050
	cfg.IMU.Bus = "/dev/i2c-1"
	cfg.IMU.SampleInterval = time.Millisecond

	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	if gotBackend != "dev" || gotBus != "/dev/i2c-1" || gotAddr != 0x68 {
		t.Fatalf("open backend=%q bus=%q addr=0x%X", gotBackend, gotBus, gotAddr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rt.sensor.Snapshot().Cycles < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no sampling cycles observed")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if rt.sensor.DevState() != motion.StateStopped {
		t.Fatalf("state=%s want stopped at rest", rt.sensor.DevState())
	}

	rt.Close()
	if rt.sensor.IsRunning() {
		t.Fatalf("sensor still running after Close")
	}
	if !bus.closed.Load() {
		t.Fatalf("bus not closed")
	}
}

func TestNewRuntime_OpenFailure(t *testing.T) {
	oldOpen := openDevFn
	openDevFn = func(string, string, uint16) (i2c.RegIO, io.Closer, error) {
		return nil, nil, errors.New("no bus")
	}
	t.Cleanup(func() { openDevFn = oldOpen })

	if _, err := newRuntime(context.Background(), config.Default()); err == nil {
		t.Fatalf("expected error")
	}
}
