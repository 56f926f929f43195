// Package sensorhub is a software SensorManager: it turns ingested step
// samples into step detector and step counter sensor events.
package sensorhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sstent/pedometer-bridge/internal/models"
	"github.com/sstent/pedometer-bridge/internal/platform/android"
)

// ErrClosed is returned by RecordSteps after Close.
var ErrClosed = errors.New("sensor hub closed")

// Config selects which sensors the simulated device carries.
type Config struct {
	StepDetector bool
	StepCounter  bool
	Vendor       string
	// Queue bounds the batches waiting for the sensor goroutine.
	Queue  int
	Logger *slog.Logger
}

type batch struct {
	steps int
	total float64
	at    time.Time
}

// Hub implements android.SensorManager and ingest.Sink. Listeners are called
// on the hub's sensor goroutine, never on the caller's.
type Hub struct {
	log     *slog.Logger
	sensors map[android.SensorType]*android.Sensor

	mu        sync.Mutex
	listeners map[android.SensorEventListener]map[android.SensorType]bool
	total     float64
	closed    bool

	batches chan batch
	done    chan struct{}
	wg      sync.WaitGroup
}

func New(cfg Config) *Hub {
	if cfg.Queue <= 0 {
		cfg.Queue = 64
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "pedometerd"
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	h := &Hub{
		log:       log,
		sensors:   map[android.SensorType]*android.Sensor{},
		listeners: map[android.SensorEventListener]map[android.SensorType]bool{},
		batches:   make(chan batch, cfg.Queue),
		done:      make(chan struct{}),
	}
	if cfg.StepDetector {
		h.sensors[android.TypeStepDetector] = &android.Sensor{Type: android.TypeStepDetector, Name: "Step Detector", Vendor: cfg.Vendor}
	}
	if cfg.StepCounter {
		h.sensors[android.TypeStepCounter] = &android.Sensor{Type: android.TypeStepCounter, Name: "Step Counter", Vendor: cfg.Vendor}
	}

	h.wg.Add(1)
	go h.loop()
	return h
}

func (h *Hub) DefaultSensor(t android.SensorType) *android.Sensor {
	return h.sensors[t]
}

func (h *Hub) RegisterListener(l android.SensorEventListener, s *android.Sensor, _ android.Delay) bool {
	if l == nil || s == nil || h.sensors[s.Type] != s {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	types := h.listeners[l]
	if types == nil {
		types = map[android.SensorType]bool{}
		h.listeners[l] = types
	}
	types[s.Type] = true
	h.log.Debug("sensor listener registered", "sensor", s.Type)
	return true
}

func (h *Hub) UnregisterListener(l android.SensorEventListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, l)
}

// Listeners counts registered listeners.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Total is the cumulative step count since the hub started.
func (h *Hub) Total() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// RecordSteps adds a sample to the cumulative counter and queues its sensor
// events.
func (h *Hub) RecordSteps(ctx context.Context, sample models.StepSample) error {
	if sample.Steps < 0 {
		return fmt.Errorf("negative step count %d", sample.Steps)
	}
	if sample.Steps == 0 {
		return nil
	}
	at := sample.At
	if at.IsZero() {
		at = time.Now()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.total += float64(sample.Steps)
	b := batch{steps: sample.Steps, total: h.total, at: at}
	h.mu.Unlock()

	select {
	case h.batches <- b:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case b := <-h.batches:
			h.deliver(b)
		}
	}
}

func (h *Hub) snapshot(t android.SensorType) []android.SensorEventListener {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []android.SensorEventListener
	for l, types := range h.listeners {
		if types[t] {
			out = append(out, l)
		}
	}
	return out
}

func (h *Hub) deliver(b batch) {
	if detector := h.sensors[android.TypeStepDetector]; detector != nil {
		listeners := h.snapshot(android.TypeStepDetector)
		for i := 0; i < b.steps && len(listeners) > 0; i++ {
			ev := android.SensorEvent{Sensor: detector, Values: []float32{1}, Timestamp: b.at}
			for _, l := range listeners {
				l.OnSensorChanged(ev)
			}
		}
	}
	if counter := h.sensors[android.TypeStepCounter]; counter != nil {
		ev := android.SensorEvent{Sensor: counter, Values: []float32{float32(b.total)}, Timestamp: b.at}
		for _, l := range h.snapshot(android.TypeStepCounter) {
			l.OnSensorChanged(ev)
		}
	}
}
