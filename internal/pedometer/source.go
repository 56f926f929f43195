package pedometer

import (
	"context"
	"time"
)

// Poster hands a closure to the plugin's single dispatch context.
type Poster interface {
	Post(fn func()) bool
}

// Gate checks a precondition, such as the minimum OS version, before a source
// is touched. A non-nil error is reported to the caller as is.
type Gate func() error

// Capabilities reports what the device and OS support. Implementations must
// be side-effect free; features a platform cannot offer report false.
type Capabilities interface {
	StepCounting() bool
	Distance() bool
	FloorCounting() bool
	Pace() bool
	Cadence() bool
	EventTracking() bool
}

// StaticCapabilities is a fixed set of capability flags.
type StaticCapabilities struct {
	StepCountingAvailable  bool
	DistanceAvailable      bool
	FloorCountingAvailable bool
	PaceAvailable          bool
	CadenceAvailable       bool
	EventTrackingAvailable bool
}

func (c StaticCapabilities) StepCounting() bool  { return c.StepCountingAvailable }
func (c StaticCapabilities) Distance() bool      { return c.DistanceAvailable }
func (c StaticCapabilities) FloorCounting() bool { return c.FloorCountingAvailable }
func (c StaticCapabilities) Pace() bool          { return c.PaceAvailable }
func (c StaticCapabilities) Cadence() bool       { return c.CadenceAvailable }
func (c StaticCapabilities) EventTracking() bool { return c.EventTrackingAvailable }

// StepEventKind distinguishes the two step detection models found on hosts.
type StepEventKind int

const (
	// DiscreteStep is one detected step.
	DiscreteStep StepEventKind = iota
	// PedestrianState is a walking state transition carrying a status code.
	PedestrianState
)

// StepEvent is one event of a step detection source.
type StepEvent struct {
	Kind   StepEventKind
	Status int
	At     time.Time
}

// Payload is the value sent to subscribers: the constant 1 for a discrete
// step, the host's status code for a pedestrian state transition.
func (e StepEvent) Payload() int {
	if e.Kind == DiscreteStep {
		return 1
	}
	return e.Status
}

// CounterSample is one value of a cumulative step counter.
type CounterSample struct {
	Cumulative float64
	At         time.Time
}

// Handlers passed to the sources below may be called from any goroutine.

// DiscreteStepSource emits an event per detected step or state transition.
type DiscreteStepSource interface {
	StepDetectionAvailable() bool
	StartStepEvents(handler func(StepEvent)) error
	StopStepEvents()
}

// CumulativeCounterSource reports a counter that only grows, counted from an
// arbitrary reference point such as the last reboot.
type CumulativeCounterSource interface {
	CounterAvailable() bool
	StartCounter(handler func(CounterSample)) error
	StopCounter()
}

// WindowedSource reports step counts and metrics for the window between a
// reference date and the moment of each update.
type WindowedSource interface {
	WindowedAvailable() bool
	StartWindowedUpdates(from time.Time, handler func(WindowSample, error)) error
	StopWindowedUpdates()
}

// HistorySource answers windowed queries against stored step history.
type HistorySource interface {
	HistoryAvailable() bool
	QueryHistory(ctx context.Context, from, to time.Time) (WindowSample, error)
}
