package android

import (
	"fmt"

	"github.com/sstent/pedometer-bridge/internal/pedometer"
)

// stepDetector registers with TypeStepDetector. Each registration gets its
// own listener so a handler is never swapped under the sensor thread.
type stepDetector struct {
	sm       SensorManager
	delay    Delay
	listener *detectorListener
}

func (d *stepDetector) StepDetectionAvailable() bool {
	return d.sm.DefaultSensor(TypeStepDetector) != nil
}

func (d *stepDetector) StartStepEvents(handler func(pedometer.StepEvent)) error {
	sensor := d.sm.DefaultSensor(TypeStepDetector)
	if sensor == nil {
		return fmt.Errorf("step detector sensor not available")
	}
	l := &detectorListener{handler: handler}
	if !d.sm.RegisterListener(l, sensor, d.delay) {
		return fmt.Errorf("register %s listener", sensor.Type)
	}
	d.listener = l
	return nil
}

func (d *stepDetector) StopStepEvents() {
	if d.listener == nil {
		return
	}
	d.sm.UnregisterListener(d.listener)
	d.listener = nil
}

type detectorListener struct {
	handler func(pedometer.StepEvent)
}

func (l *detectorListener) OnSensorChanged(e SensorEvent) {
	if e.Sensor == nil || e.Sensor.Type != TypeStepDetector {
		return
	}
	l.handler(pedometer.StepEvent{Kind: pedometer.DiscreteStep, At: e.Timestamp})
}

func (l *detectorListener) OnAccuracyChanged(*Sensor, int) {}

// stepCounter registers with TypeStepCounter.
type stepCounter struct {
	sm       SensorManager
	delay    Delay
	listener *counterListener
}

func (c *stepCounter) CounterAvailable() bool {
	return c.sm.DefaultSensor(TypeStepCounter) != nil
}

func (c *stepCounter) StartCounter(handler func(pedometer.CounterSample)) error {
	sensor := c.sm.DefaultSensor(TypeStepCounter)
	if sensor == nil {
		return fmt.Errorf("step counter sensor not available")
	}
	l := &counterListener{handler: handler}
	if !c.sm.RegisterListener(l, sensor, c.delay) {
		return fmt.Errorf("register %s listener", sensor.Type)
	}
	c.listener = l
	return nil
}

func (c *stepCounter) StopCounter() {
	if c.listener == nil {
		return
	}
	c.sm.UnregisterListener(c.listener)
	c.listener = nil
}

type counterListener struct {
	handler func(pedometer.CounterSample)
}

func (l *counterListener) OnSensorChanged(e SensorEvent) {
	if e.Sensor == nil || e.Sensor.Type != TypeStepCounter || len(e.Values) == 0 {
		return
	}
	l.handler(pedometer.CounterSample{Cumulative: float64(e.Values[0]), At: e.Timestamp})
}

func (l *counterListener) OnAccuracyChanged(*Sensor, int) {}
