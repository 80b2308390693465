package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/hydromon/pkg/config"
	"github.com/itohio/hydromon/pkg/sample"
	"github.com/itohio/hydromon/pkg/sensor"
	"github.com/itohio/hydromon/pkg/window"
)

// Recorder receives the outcome of every tick.
type Recorder interface {
	TickCompleted(s sample.Sample, windowLen int, d time.Duration)
	TickFailed(err error, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TickCompleted(sample.Sample, int, time.Duration) {}
func (nopRecorder) TickFailed(error, time.Duration)                 {}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithObserver receives parse errors and decode fallbacks from hardware readers.
func WithObserver(obs sensor.Observer) Option {
	return func(s *Scheduler) { s.obs = obs }
}

// WithRecorder receives tick outcomes.
func WithRecorder(rec Recorder) Option {
	return func(s *Scheduler) { s.rec = rec }
}

// WithClock replaces time.Now for timestamping.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSourceFactory replaces NewSource.
func WithSourceFactory(f func(cfg config.ChannelConfig, log logrus.FieldLogger, obs sensor.Observer) Source) Option {
	return func(s *Scheduler) { s.newSource = f }
}

// Scheduler acquires one sample per tick and appends it to the window.
//
// Ticks are serialized: Tick, Configure and Run never interleave their
// access to the source. Snapshot and Config may be called from any goroutine.
type Scheduler struct {
	log       logrus.FieldLogger
	obs       sensor.Observer
	rec       Recorder
	now       func() time.Time
	newSource func(cfg config.ChannelConfig, log logrus.FieldLogger, obs sensor.Observer) Source
	win       *window.Window

	tickMu sync.Mutex // held for a whole tick or reconfiguration
	last   time.Time

	mu  sync.RWMutex
	cfg config.ChannelConfig
	src Source

	cbMu      sync.RWMutex
	callbacks []func(sample.Sample)
}

// New creates a scheduler for cfg appending into win.
// The source is built immediately but not connected until Run or the first Tick.
func New(cfg config.ChannelConfig, win *window.Window, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:       logrus.StandardLogger(),
		obs:       sensor.NopObserver{},
		rec:       nopRecorder{},
		now:       time.Now,
		newSource: NewSource,
		win:       win,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "scheduler")
	s.src = s.newSource(cfg, s.log, s.obs)
	return s
}

// OnSample registers a callback invoked after every append.
// Callbacks run on the ticking goroutine and must not block.
func (s *Scheduler) OnSample(cb func(sample.Sample)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Snapshot returns a copy of the window, oldest first.
func (s *Scheduler) Snapshot() []sample.Sample {
	return s.win.Snapshot()
}

// View returns the window thinned to at most maxPoints samples for plotting.
// The newest sample is always included.
func (s *Scheduler) View(maxPoints int) []sample.Sample {
	return sample.Decimate(nil, s.win.Snapshot(), maxPoints)
}

// Config returns the active channel configuration.
func (s *Scheduler) Config() config.ChannelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scheduler) source() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.src
}

// Tick acquires one reading, stamps it and appends it to the window.
// On failure the window is left untouched and the error is returned.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	src := s.source()
	start := time.Now()

	r, err := s.acquire(ctx, src)
	if err != nil {
		s.rec.TickFailed(err, time.Since(start))
		s.log.WithFields(logrus.Fields{
			"source": src.Name(),
			"error":  err,
		}).Warn("acquisition failed")
		return err
	}

	ts := s.now()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts

	smp := r.At(ts)
	s.win.Append(smp)
	s.rec.TickCompleted(smp, s.win.Len(), time.Since(start))
	s.log.WithFields(logrus.Fields{
		"distance":     smp.Distance,
		"temperature":  smp.Temperature,
		"conductivity": smp.Conductivity,
		"uv_status":    smp.UVStatus,
	}).Debug("sample")

	s.notify(smp)
	return nil
}

// acquire turns a panicking source into an error so a tick never crashes the loop.
func (s *Scheduler) acquire(ctx context.Context, src Source) (r sample.Reading, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s source panicked: %v", src.Name(), p)
		}
	}()
	return src.Acquire(ctx)
}

func (s *Scheduler) notify(smp sample.Sample) {
	s.cbMu.RLock()
	callbacks := make([]func(sample.Sample), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(smp)
	}
}

// Configure replaces the channel configuration between ticks.
//
// The old source is closed first so a new source can reopen the same ports.
// If the new source cannot connect it is discarded, the old source is
// reconnected and the old configuration stays active.
func (s *Scheduler) Configure(cfg config.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	old := s.source()
	if err := old.Close(); err != nil {
		s.log.WithError(err).Warn("closing previous source")
	}

	src := s.newSource(cfg, s.log, s.obs)
	if err := src.Connect(); err != nil {
		src.Close()
		if rerr := old.Connect(); rerr != nil {
			// Hardware readers reconnect lazily on the next tick.
			s.log.WithError(rerr).Warn("reconnecting previous source")
		}
		return fmt.Errorf("connect %s source: %w", src.Name(), err)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.src = src
	s.mu.Unlock()

	s.log.WithField("source", src.Name()).Info("configuration applied")
	return nil
}

// Run connects the source and ticks every interval until ctx is done.
// Failing to establish the initial connection is returned; tick failures
// are only logged. The source is closed on return.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid tick interval %v", interval)
	}

	s.tickMu.Lock()
	src := s.source()
	err := src.Connect()
	s.tickMu.Unlock()
	if err != nil {
		return fmt.Errorf("connect %s source: %w", src.Name(), err)
	}
	defer s.close()

	s.log.WithFields(logrus.Fields{
		"source":   src.Name(),
		"interval": interval,
	}).Info("acquisition started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			entry := s.log.WithField("samples", s.win.Len())
			if last, ok := s.win.Latest(); ok {
				entry = entry.WithField("last_sample", last.Timestamp)
			}
			entry.Info("acquisition stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && errors.Is(err, context.Canceled) {
				return nil
			}
		}
	}
}

func (s *Scheduler) close() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if err := s.source().Close(); err != nil {
		s.log.WithError(err).Warn("closing source")
	}
}
