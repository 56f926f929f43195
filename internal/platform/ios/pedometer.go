// Package ios binds the pedometer plugin to a CoreMotion-style host: a
// pedometer object that reports windowed step data counted from a reference
// date, pedestrian pause/resume events and stored step history.
package ios

import (
	"context"
	"time"
)

// PedometerEventType is the pedestrian state transition reported by the host.
type PedometerEventType int

const (
	EventPause  PedometerEventType = 0
	EventResume PedometerEventType = 1
)

func (t PedometerEventType) String() string {
	switch t {
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// PedometerEvent marks a pedestrian state transition.
type PedometerEvent struct {
	Date time.Time
	Type PedometerEventType
}

// PedometerData is one windowed measurement. Pointer fields are nil when the
// device could not measure them.
type PedometerData struct {
	StartDate         time.Time
	EndDate           time.Time
	NumberOfSteps     int
	Distance          *float64
	FloorsAscended    *int
	FloorsDescended   *int
	CurrentPace       *float64
	CurrentCadence    *float64
	AverageActivePace *float64
}

// Pedometer is the host's motion coprocessor interface. Handlers run on a
// goroutine owned by the implementation.
type Pedometer interface {
	IsStepCountingAvailable() bool
	IsDistanceAvailable() bool
	IsFloorCountingAvailable() bool
	IsPaceAvailable() bool
	IsCadenceAvailable() bool
	IsPedometerEventTrackingAvailable() bool

	StartUpdates(from time.Time, handler func(*PedometerData, error)) error
	StopUpdates()
	StartEventUpdates(handler func(*PedometerEvent, error)) error
	StopEventUpdates()

	QueryPedometerData(ctx context.Context, from, to time.Time) (*PedometerData, error)
}
