// Package motion turns a stream of IMU samples into a moving/stopped device
// state.
//
// A Sensor owns one imu.Device, samples it periodically on its own goroutine
// and keeps the latest readings, a bounded history and the derived state
// behind a single lock. All reads through the Sensor observe the result of
// one completed sampling cycle.
package motion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"homesec-ng/internal/imu"
)

var (
	ErrInit           = errors.New("motion: device init failed")
	ErrCalibration    = errors.New("motion: calibration failed")
	ErrAlreadyRunning = errors.New("motion: sampling already running")
	ErrConfiguration  = errors.New("motion: invalid movement settings")
	ErrInvalidPeriod  = errors.New("motion: invalid sampling period")
)

type DeviceState int

const (
	StateStopped DeviceState = iota
	StateMoving
)

func (d DeviceState) String() string {
	switch d {
	case StateStopped:
		return "stopped"
	case StateMoving:
		return "moving"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(d))
	}
}

func stateFor(moving bool) DeviceState {
	if moving {
		return StateMoving
	}
	return StateStopped
}

// MovementData describes the latest movement episode.
type MovementData struct {
	// StartTime is the capture time of the sample that switched the device
	// from stopped to moving. Zero until the first transition.
	StartTime time.Time
}

type Config struct {
	// Name prefixes log lines; defaults to "imu".
	Name string
	// HistorySize is the ring capacity; defaults to DefaultHistorySize.
	HistorySize int
	// Movement defaults to DefaultMovementSettings when zero.
	Movement MovementSettings
	// Clock drives the sampling ticker and sample timestamps.
	Clock clock.Clock
}

// Snapshot is a consistent view of the sensor as of one sampling cycle.
type Snapshot struct {
	Sample     imu.Sample
	HaveSample bool

	State    DeviceState
	Moving   bool
	Movement MovementData

	Cycles       uint64
	ReadFailures uint64
	LastError    string
	UpdatedAt    time.Time
}

type Sensor struct {
	cfg Config
	clk clock.Clock

	// devMu serializes every access to dev: sampling reads, calibration and
	// offset changes.
	devMu sync.Mutex
	dev   imu.Device

	mu           sync.Mutex
	history      *History
	last         imu.Sample
	haveLast     bool
	hyst         hysteresis
	settings     MovementSettings
	movement     MovementData
	moving       bool
	state        DeviceState
	cycles       uint64
	readFailures uint64
	failStreak   uint64
	lastErr      string
	updatedAt    time.Time
	subs         []chan DeviceState

	runMu  sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// New initializes dev and returns a Sensor that is not yet sampling.
// An initialization failure is returned wrapped in ErrInit.
func New(dev imu.Device, cfg Config) (*Sensor, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: device is nil", ErrInit)
	}
	if cfg.Name == "" {
		cfg.Name = "imu"
	}
	if cfg.Movement == (MovementSettings{}) {
		cfg.Movement = DefaultMovementSettings
	}
	if err := cfg.Movement.validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}

	return &Sensor{
		cfg:      cfg,
		clk:      cfg.Clock,
		dev:      dev,
		history:  NewHistory(cfg.HistorySize),
		settings: cfg.Movement,
		state:    StateStopped,
	}, nil
}

func (s *Sensor) check() {
	if s == nil || s.history == nil {
		panic("motion: Sensor used without New")
	}
}

// Start launches the sampling goroutine with the given period. It returns
// ErrAlreadyRunning if sampling is active. Sampling ends when ctx is done or
// Stop is called.
func (s *Sensor) Start(ctx context.Context, period time.Duration) error {
	s.check()
	if period <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stopCh
	s.done = done

	// Create the ticker before returning so a tick issued right after Start
	// is never missed.
	t := s.clk.Ticker(period)
	go s.run(ctx, t, stopCh, done)

	log.Printf("motion: %s sampling started period=%s", s.cfg.Name, period)
	return nil
}

// Stop ends sampling after the in-flight cycle and waits for the goroutine
// to exit. It is a no-op when sampling is not running.
func (s *Sensor) Stop() {
	s.check()
	s.runMu.Lock()
	stopCh, done := s.stopCh, s.done
	if stopCh != nil {
		close(stopCh)
		s.stopCh = nil
	}
	s.runMu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Sensor) IsRunning() bool {
	s.check()
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.done != nil
}

func (s *Sensor) run(ctx context.Context, t *clock.Ticker, stopCh, done chan struct{}) {
	defer func() {
		t.Stop()
		s.runMu.Lock()
		if s.done == done {
			s.done = nil
			s.stopCh = nil
		}
		s.runMu.Unlock()
		log.Printf("motion: %s sampling stopped", s.cfg.Name)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			s.cycle()
		}
	}
}

// cycle performs one sampling step. Device I/O happens before the state
// lock is taken.
func (s *Sensor) cycle() {
	s.devMu.Lock()
	sample, err := s.dev.Read()
	s.devMu.Unlock()

	if err != nil {
		s.recordReadErr(err)
		return
	}
	if sample.Time.IsZero() {
		sample.Time = s.clk.Now()
	}
	s.apply(sample)
}

func (s *Sensor) recordReadErr(err error) {
	s.mu.Lock()
	s.readFailures++
	s.failStreak++
	s.lastErr = err.Error()
	first := s.failStreak == 1
	s.mu.Unlock()

	if first {
		log.Printf("motion: %s read failed, skipping cycles until it recovers: %v", s.cfg.Name, err)
	}
}

// apply records a successful sample and runs detection on it.
func (s *Sensor) apply(sample imu.Sample) {
	s.mu.Lock()
	s.history.Push(sample)
	s.last, s.haveLast = sample, true

	prev := s.state
	var started bool
	s.hyst, s.moving, started = detect(sample, s.hyst, s.settings, s.moving)
	if started {
		s.movement.StartTime = sample.Time
	}
	s.state = stateFor(s.moving)

	s.cycles++
	recovered := s.failStreak
	s.failStreak = 0
	s.lastErr = ""
	s.updatedAt = sample.Time

	changed := s.state != prev
	if changed {
		for _, ch := range s.subs {
			select {
			case ch <- s.state:
			default:
			}
		}
	}
	state := s.state
	s.mu.Unlock()

	if recovered > 0 {
		log.Printf("motion: %s read recovered after %d failed cycles", s.cfg.Name, recovered)
	}
	if changed {
		log.Printf("motion: %s state %s -> %s", s.cfg.Name, prev, state)
	}
}

// Subscribe returns a channel that receives every device state transition.
// Sends never block: a subscriber that falls more than buffer transitions
// behind misses the newer ones.
func (s *Sensor) Subscribe(buffer int) <-chan DeviceState {
	s.check()
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan DeviceState, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, ch)
	return ch
}

// Calibrate runs the device calibration procedure and returns the new
// offsets. Sampling is held off while it runs; the device must be kept
// still. On failure the device keeps its previous offsets.
func (s *Sensor) Calibrate() (imu.Offsets, error) {
	s.check()
	s.devMu.Lock()
	defer s.devMu.Unlock()

	offs, err := s.dev.Calibrate()
	if err != nil {
		return imu.Offsets{}, fmt.Errorf("%w: %w", ErrCalibration, err)
	}
	log.Printf("motion: %s calibrated offsets %s", s.cfg.Name, offs)
	return offs, nil
}

func (s *Sensor) CurrentOffsets() imu.Offsets {
	s.check()
	s.devMu.Lock()
	defer s.devMu.Unlock()
	return s.dev.Offsets()
}

// SetOffsets replaces the device offsets. The next sampled reading is the
// first one to use them.
func (s *Sensor) SetOffsets(o imu.Offsets) error {
	s.check()
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if err := s.dev.SetOffsets(o); err != nil {
		return fmt.Errorf("motion: %s set offsets: %w", s.cfg.Name, err)
	}
	return nil
}

// ConfigureMovementDetection replaces the movement settings. Invalid settings
// are rejected with ErrConfiguration and the previous ones stay in effect.
func (s *Sensor) ConfigureMovementDetection(m MovementSettings) error {
	s.check()
	if err := m.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = m
	return nil
}

func (s *Sensor) MovementSettings() MovementSettings {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// AxisData returns the most recent sample, or false if none was captured
// yet. ResetMeasurements does not clear it.
func (s *Sensor) AxisData() (imu.Sample, bool) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.haveLast
}

func (s *Sensor) Moving() bool {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moving
}

func (s *Sensor) MovementData() MovementData {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movement
}

func (s *Sensor) DevState() DeviceState {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the buffered samples, oldest first.
func (s *Sensor) History() []imu.Sample {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Samples(make([]imu.Sample, 0, s.history.Len()))
}

// ResetMeasurements drops the buffered samples. The latest sample, detection
// counters and the device state are kept.
func (s *Sensor) ResetMeasurements() {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
}

func (s *Sensor) Snapshot() Snapshot {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Sample:       s.last,
		HaveSample:   s.haveLast,
		State:        s.state,
		Moving:       s.moving,
		Movement:     s.movement,
		Cycles:       s.cycles,
		ReadFailures: s.readFailures,
		LastError:    s.lastErr,
		UpdatedAt:    s.updatedAt,
	}
}
