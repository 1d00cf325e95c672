// Package indicator drives a GPIO output (typically an LED) that follows the
// motion device state: on while moving, off while stopped.
package indicator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"homesec-ng/internal/motion"
)

type line interface {
	SetValue(v int) error
	Close() error
}

// StateSource is polled for the current device state. *motion.Sensor
// satisfies it.
type StateSource interface {
	DevState() motion.DeviceState
}

type Config struct {
	Enable bool

	// Pin is BCM GPIO numbering.
	Pin       int
	ActiveLow bool

	PollInterval time.Duration

	// Clock defaults to the wall clock.
	Clock clock.Clock
}

type Snapshot struct {
	Enabled   bool
	Available bool

	On    bool
	State motion.DeviceState

	LastUpdateAt time.Time
	LastError    string
}

type Service struct {
	cfg Config
	src StateSource

	mu   sync.RWMutex
	snap Snapshot

	lineMu sync.Mutex
	line   line

	wg sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config, src StateSource) *Service {
	if cfg.Pin == 0 {
		cfg.Pin = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Service{cfg: cfg, src: src, stopCh: make(chan struct{})}
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
	s.snap.LastUpdateAt = s.cfg.Clock.Now().UTC()
}

// Start requests the line and begins following the state source. It does
// nothing when the indicator is disabled.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("indicator: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if s.src == nil {
		return fmt.Errorf("indicator: state source is nil")
	}

	s.setState(func(sn *Snapshot) { sn.Enabled = true })

	l, err := openLineFn(s.cfg.Pin, s.cfg.ActiveLow)
	if err != nil {
		s.setState(func(sn *Snapshot) { sn.LastError = err.Error() })
		return err
	}
	s.lineMu.Lock()
	s.line = l
	s.lineMu.Unlock()
	s.setState(func(sn *Snapshot) { sn.Available = true })
	log.Printf("indicator: gpio=%d active_low=%v poll=%s", s.cfg.Pin, s.cfg.ActiveLow, s.cfg.PollInterval)

	t := s.cfg.Clock.Ticker(s.cfg.PollInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.Stop()
		s.follow(ctx, t, l)
	}()

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return nil
}

func (s *Service) follow(ctx context.Context, t *clock.Ticker, l line) {
	var on bool
	s.apply(l, &on, s.src.DevState(), true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.apply(l, &on, s.src.DevState(), false)
		}
	}
}

func (s *Service) apply(l line, on *bool, st motion.DeviceState, force bool) {
	want := st == motion.StateMoving
	if want == *on && !force {
		return
	}
	v := 0
	if want {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		s.setState(func(sn *Snapshot) {
			sn.LastError = fmt.Sprintf("indicator: set line failed: %v", err)
		})
		return
	}
	*on = want
	s.setState(func(sn *Snapshot) {
		sn.On = want
		sn.State = st
		sn.LastError = ""
	})
}

// Close stops following and turns the line off before releasing it.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	s.lineMu.Lock()
	l := s.line
	s.line = nil
	s.lineMu.Unlock()
	if l != nil {
		_ = l.SetValue(0)
		_ = l.Close()
		s.setState(func(sn *Snapshot) {
			sn.On = false
			sn.Available = false
		})
	}
}
