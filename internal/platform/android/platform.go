package android

import (
	"errors"
	"fmt"

	"github.com/sstent/pedometer-bridge/internal/pedometer"
	"github.com/sstent/pedometer-bridge/internal/plugin"
)

// MinSDK is the first API level shipping step sensors.
const MinSDK = 19

// Event channel names.
const (
	ChannelStepDetection     = "step_detection"
	ChannelStepCounterFirst  = "step_counter_first"
	ChannelStepCounterSecond = "step_counter_second"
	ChannelStepCounterThird  = "step_counter_third"
)

// Config describes the host.
type Config struct {
	Release string
	SDKInt  int
	Manager SensorManager
	Delay   Delay
}

// NewPlatform exposes the host's step detector as a discrete step source and
// its step counter as a cumulative counter. The host has no distance, floor,
// pace or cadence sensors and no step history.
func NewPlatform(cfg Config) (plugin.Platform, error) {
	if cfg.Manager == nil {
		return plugin.Platform{}, errors.New("android: sensor manager required")
	}
	if cfg.Delay == 0 {
		cfg.Delay = DelayNormal
	}
	return plugin.Platform{
		Name:                 "android",
		Version:              "Android " + cfg.Release,
		Gate:                 sdkGate(cfg.SDKInt),
		Capabilities:         capabilities{sm: cfg.Manager},
		StepEvents:           &stepDetector{sm: cfg.Manager, delay: cfg.Delay},
		Counter:              &stepCounter{sm: cfg.Manager, delay: cfg.Delay},
		HistoryUnsupported:   "Querying pedometer data is not supported on Android",
		DetectionUnavailable: "Step Detector sensor not available",
		CounterUnavailable:   "Step Counter sensor not available",
		DetectionChannels:    []string{ChannelStepDetection},
		CounterChannels:      []string{ChannelStepCounterFirst, ChannelStepCounterSecond, ChannelStepCounterThird},
	}, nil
}

func sdkGate(sdk int) pedometer.Gate {
	return func() error {
		if sdk > 0 && sdk < MinSDK {
			return pedometer.UnsupportedVersion(fmt.Sprintf("Requires Android API %d minimum", MinSDK))
		}
		return nil
	}
}

type capabilities struct {
	sm SensorManager
}

func (c capabilities) StepCounting() bool  { return c.sm.DefaultSensor(TypeStepCounter) != nil }
func (c capabilities) Distance() bool      { return false }
func (c capabilities) FloorCounting() bool { return false }
func (c capabilities) Pace() bool          { return false }
func (c capabilities) Cadence() bool       { return false }
func (c capabilities) EventTracking() bool { return c.sm.DefaultSensor(TypeStepDetector) != nil }
