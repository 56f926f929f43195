// Package pedometer holds the platform-neutral part of the pedometer plugin:
// the normalized step record, error kinds, the motion data source variants a
// platform can implement, and the adapters turning those sources into method
// results and event streams.
package pedometer

import "time"

// Reading is the normalized step counter record. Optional fields are nil when
// the platform did not supply them and are then left out of the wire form.
type Reading struct {
	StartDate         int64    `json:"startDate"`
	EndDate           int64    `json:"endDate"`
	NumberOfSteps     int      `json:"numberOfSteps"`
	Distance          *float64 `json:"distance,omitempty"`
	AverageActivePace *float64 `json:"averageActivePace,omitempty"`
	CurrentPace       *float64 `json:"currentPace,omitempty"`
	CurrentCadence    *float64 `json:"currentCadence,omitempty"`
	FloorsAscended    *int     `json:"floorsAscended,omitempty"`
	FloorsDescended   *int     `json:"floorsDescended,omitempty"`
}

// Map returns the record as a map holding only present fields.
func (r Reading) Map() map[string]any {
	m := map[string]any{
		"startDate":     r.StartDate,
		"endDate":       r.EndDate,
		"numberOfSteps": r.NumberOfSteps,
	}
	putFloat(m, "distance", r.Distance)
	putFloat(m, "averageActivePace", r.AverageActivePace)
	putFloat(m, "currentPace", r.CurrentPace)
	putFloat(m, "currentCadence", r.CurrentCadence)
	putInt(m, "floorsAscended", r.FloorsAscended)
	putInt(m, "floorsDescended", r.FloorsDescended)
	return m
}

func putFloat(m map[string]any, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

func putInt(m map[string]any, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}

// Millis converts t to milliseconds since the epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts milliseconds since the epoch to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// WindowSample is one sample of a windowed step source: a step count and
// whatever optional metrics the source measured between Start and End.
type WindowSample struct {
	Start             time.Time
	End               time.Time
	Steps             int
	Distance          *float64
	AverageActivePace *float64
	CurrentPace       *float64
	CurrentCadence    *float64
	FloorsAscended    *int
	FloorsDescended   *int
}

// Reading normalizes the sample.
func (s WindowSample) Reading() Reading {
	return Reading{
		StartDate:         Millis(s.Start),
		EndDate:           Millis(s.End),
		NumberOfSteps:     s.Steps,
		Distance:          s.Distance,
		AverageActivePace: s.AverageActivePace,
		CurrentPace:       s.CurrentPace,
		CurrentCadence:    s.CurrentCadence,
		FloorsAscended:    s.FloorsAscended,
		FloorsDescended:   s.FloorsDescended,
	}
}

// CounterReading builds the record emitted for a session-relative step count
// on platforms without native windows: both bounds are the arrival time.
func CounterReading(steps int, at time.Time) Reading {
	ms := Millis(at)
	return Reading{StartDate: ms, EndDate: ms, NumberOfSteps: steps}
}
