// Package motion is a software motion coprocessor: it stores ingested step
// samples and answers the CoreMotion-style pedometer interface from them.
package motion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sstent/pedometer-bridge/internal/models"
	"github.com/sstent/pedometer-bridge/internal/platform/ios"
)

var (
	ErrClosed      = errors.New("motion engine closed")
	ErrUnavailable = errors.New("not available on this device")
)

// Store is the step history the engine reads and writes.
type Store interface {
	InsertSample(sample models.StepSample) error
	Aggregate(from, to time.Time) (models.StepAggregate, error)
}

// Flags are the device's capabilities.
type Flags struct {
	StepCounting  bool
	Distance      bool
	FloorCounting bool
	Pace          bool
	Cadence       bool
	EventTracking bool
}

type Config struct {
	Flags Flags
	// IdleTimeout is the inactivity after which a pause event is emitted.
	IdleTimeout time.Duration
	// PaceWindow is the trailing window current pace and cadence cover.
	PaceWindow time.Duration
	Queue      int
	Now        func() time.Time
	Logger     *slog.Logger
}

type updates struct {
	from    time.Time
	handler func(*ios.PedometerData, error)
}

// Engine implements ios.Pedometer and ingest.Sink. Handlers run on the
// engine's own goroutine.
type Engine struct {
	store Store
	cfg   Config
	log   *slog.Logger

	mu       sync.Mutex
	updates  *updates
	events   func(*ios.PedometerEvent, error)
	walking  bool
	stepSeq  uint64
	idle     *time.Timer
	closed   bool
	workDone chan struct{}

	work chan func()
	// refresh requests one snapshot for the active subscriber; sends never block.
	refresh chan struct{}
	wg      sync.WaitGroup
}

func New(store Store, cfg Config) *Engine {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Second
	}
	if cfg.PaceWindow <= 0 {
		cfg.PaceWindow = 10 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:    store,
		cfg:      cfg,
		log:      log,
		work:     make(chan func(), cfg.Queue),
		refresh:  make(chan struct{}, 1),
		workDone: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Engine) IsStepCountingAvailable() bool           { return e.cfg.Flags.StepCounting }
func (e *Engine) IsDistanceAvailable() bool               { return e.cfg.Flags.Distance }
func (e *Engine) IsFloorCountingAvailable() bool          { return e.cfg.Flags.FloorCounting }
func (e *Engine) IsPaceAvailable() bool                   { return e.cfg.Flags.Pace }
func (e *Engine) IsCadenceAvailable() bool                { return e.cfg.Flags.Cadence }
func (e *Engine) IsPedometerEventTrackingAvailable() bool { return e.cfg.Flags.EventTracking }

// StartUpdates delivers the steps counted since from, once now and again after
// every ingested sample. It never waits on the handler goroutine, so it is safe
// to call from the goroutine the handler hands its results to.
func (e *Engine) StartUpdates(from time.Time, handler func(*ios.PedometerData, error)) error {
	if !e.cfg.Flags.StepCounting {
		return fmt.Errorf("step counting: %w", ErrUnavailable)
	}
	sub := &updates{from: from, handler: handler}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.updates = sub
	e.mu.Unlock()

	e.Refresh()
	return nil
}

// Refresh schedules a fresh snapshot for the active updates subscriber, for
// samples that reached the store without passing through RecordSteps.
// Requests made while one is pending collapse into it.
func (e *Engine) Refresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

func (e *Engine) StopUpdates() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updates = nil
}

func (e *Engine) StartEventUpdates(handler func(*ios.PedometerEvent, error)) error {
	if !e.cfg.Flags.EventTracking {
		return fmt.Errorf("pedometer event tracking: %w", ErrUnavailable)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.events = handler
	return nil
}

func (e *Engine) StopEventUpdates() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}

// QueryPedometerData aggregates the stored samples in [from, to].
func (e *Engine) QueryPedometerData(ctx context.Context, from, to time.Time) (*ios.PedometerData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.cfg.Flags.StepCounting {
		return nil, fmt.Errorf("step counting: %w", ErrUnavailable)
	}
	agg, err := e.store.Aggregate(from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate steps: %w", err)
	}
	if agg.Empty() {
		return nil, ios.ErrNoData
	}
	data := e.data(from, to, agg)
	return data, nil
}

// RecordSteps stores a sample, then drives pedestrian events and windowed
// updates.
func (e *Engine) RecordSteps(ctx context.Context, sample models.StepSample) error {
	if sample.Steps < 0 {
		return fmt.Errorf("negative step count %d", sample.Steps)
	}
	if sample.At.IsZero() {
		sample.At = e.cfg.Now()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := e.store.InsertSample(sample); err != nil {
		return fmt.Errorf("store sample: %w", err)
	}

	e.mu.Lock()
	sub := e.updates
	var resume func(*ios.PedometerEvent, error)
	if sample.Steps > 0 {
		if !e.walking {
			e.walking = true
			resume = e.events
		}
		e.armIdle()
	}
	e.mu.Unlock()

	if resume != nil {
		ev := &ios.PedometerEvent{Date: sample.At, Type: ios.EventResume}
		e.enqueue(func() { e.deliverEvent(resume, ev) })
	}
	if sub != nil {
		e.enqueue(func() { e.deliverUpdate(sub) })
	}
	return nil
}

// armIdle restarts the pause timer. Called with mu held.
func (e *Engine) armIdle() {
	e.stepSeq++
	seq := e.stepSeq
	if e.idle != nil {
		e.idle.Stop()
	}
	e.idle = time.AfterFunc(e.cfg.IdleTimeout, func() { e.becameIdle(seq) })
}

func (e *Engine) becameIdle(seq uint64) {
	e.mu.Lock()
	if seq != e.stepSeq || !e.walking || e.closed {
		e.mu.Unlock()
		return
	}
	e.walking = false
	handler := e.events
	e.mu.Unlock()

	if handler != nil {
		ev := &ios.PedometerEvent{Date: e.cfg.Now(), Type: ios.EventPause}
		e.enqueue(func() { e.deliverEvent(handler, ev) })
	}
}

func (e *Engine) deliverEvent(handler func(*ios.PedometerEvent, error), ev *ios.PedometerEvent) {
	e.mu.Lock()
	current := e.events
	e.mu.Unlock()
	// The subscriber may have stopped while the event was queued.
	if current == nil {
		return
	}
	handler(ev, nil)
}

func (e *Engine) deliverUpdate(sub *updates) {
	e.mu.Lock()
	active := e.updates == sub
	e.mu.Unlock()
	if !active {
		return
	}

	now := e.cfg.Now()
	agg, err := e.store.Aggregate(sub.from, now)
	if err != nil {
		sub.handler(nil, fmt.Errorf("aggregate steps: %w", err))
		return
	}
	data := e.data(sub.from, now, agg)

	if e.cfg.Flags.Pace || e.cfg.Flags.Cadence {
		recent, err := e.store.Aggregate(now.Add(-e.cfg.PaceWindow), now)
		if err != nil {
			e.log.Warn("trailing window aggregate failed", "error", err)
		} else {
			e.current(data, recent)
		}
	}
	sub.handler(data, nil)
}

// data shapes an aggregate into what the device is able to report.
func (e *Engine) data(from, to time.Time, agg models.StepAggregate) *ios.PedometerData {
	d := &ios.PedometerData{
		StartDate:     from,
		EndDate:       to,
		NumberOfSteps: agg.Steps,
	}
	if e.cfg.Flags.Distance {
		d.Distance = agg.Distance
	}
	if e.cfg.Flags.FloorCounting {
		d.FloorsAscended = agg.FloorsAscended
		d.FloorsDescended = agg.FloorsDescended
	}
	if e.cfg.Flags.Pace && agg.Distance != nil && *agg.Distance > 0 {
		if active := agg.Last.Sub(agg.First).Seconds(); active > 0 {
			pace := active / *agg.Distance
			d.AverageActivePace = &pace
		}
	}
	return d
}

// current fills pace (seconds per meter) and cadence (steps per second) from
// the trailing window.
func (e *Engine) current(d *ios.PedometerData, recent models.StepAggregate) {
	window := e.cfg.PaceWindow.Seconds()
	if e.cfg.Flags.Cadence && recent.Steps > 0 {
		cadence := float64(recent.Steps) / window
		d.CurrentCadence = &cadence
	}
	if e.cfg.Flags.Pace && recent.Distance != nil && *recent.Distance > 0 {
		pace := window / *recent.Distance
		d.CurrentPace = &pace
	}
}

func (e *Engine) enqueue(fn func()) {
	select {
	case e.work <- fn:
	case <-e.workDone:
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.workDone:
			return
		case fn := <-e.work:
			fn()
		case <-e.refresh:
			e.mu.Lock()
			sub := e.updates
			e.mu.Unlock()
			if sub != nil {
				e.deliverUpdate(sub)
			}
		}
	}
}

// Close stops timers and the handler goroutine.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.idle != nil {
		e.idle.Stop()
	}
	e.updates = nil
	e.events = nil
	e.mu.Unlock()

	close(e.workDone)
	e.wg.Wait()
}
