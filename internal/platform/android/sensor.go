// Package android binds the pedometer plugin to a SensorManager-style host:
// a step detector sensor firing once per step and a step counter sensor
// reporting the steps counted since the last reboot.
package android

import "time"

// SensorType identifies a hardware sensor, numbered as the host does.
type SensorType int

const (
	TypeStepDetector SensorType = 18
	TypeStepCounter  SensorType = 19
)

func (t SensorType) String() string {
	switch t {
	case TypeStepDetector:
		return "step_detector"
	case TypeStepCounter:
		return "step_counter"
	default:
		return "unknown"
	}
}

// Delay is the requested sampling rate class.
type Delay int

const (
	DelayFastest Delay = iota
	DelayGame
	DelayUI
	DelayNormal
)

// Sensor describes one hardware sensor.
type Sensor struct {
	Type   SensorType
	Name   string
	Vendor string
}

// SensorEvent is one reading. Step detectors report 1.0 in Values[0]; step
// counters report the cumulative count.
type SensorEvent struct {
	Sensor    *Sensor
	Values    []float32
	Timestamp time.Time
}

// SensorEventListener receives sensor events on the host's sensor thread.
type SensorEventListener interface {
	OnSensorChanged(event SensorEvent)
	OnAccuracyChanged(sensor *Sensor, accuracy int)
}

// SensorManager is the host's sensor service.
type SensorManager interface {
	// DefaultSensor returns nil when the device has no sensor of that type.
	DefaultSensor(t SensorType) *Sensor
	RegisterListener(l SensorEventListener, s *Sensor, delay Delay) bool
	// UnregisterListener removes l from every sensor it listens to.
	UnregisterListener(l SensorEventListener)
}
