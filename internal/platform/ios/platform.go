package ios

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/sstent/pedometer-bridge/internal/pedometer"
	"github.com/sstent/pedometer-bridge/internal/plugin"
)

// MinimumVersion is the first OS release with pedometer event tracking.
const MinimumVersion = "10.0"

// Event channel names.
const (
	ChannelStepDetection = "step_detection"
	ChannelStepCount     = "step_count"
)

// ErrNoData is returned by queries that found no step history.
var ErrNoData = errors.New("no pedometer data")

// Config describes the host.
type Config struct {
	SystemVersion string
	Pedometer     Pedometer
	// Uptime reports the time since the last reboot; step counts are
	// windowed from then.
	Uptime func() time.Duration
	Now    func() time.Time
}

// NewPlatform exposes the pedometer as a windowed counter, a pedestrian state
// event source and a history source.
func NewPlatform(cfg Config) (plugin.Platform, error) {
	if cfg.Pedometer == nil {
		return plugin.Platform{}, errors.New("ios: pedometer required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	uptime := cfg.Uptime
	if uptime == nil {
		uptime = func() time.Duration { return 0 }
	}
	ped := cfg.Pedometer
	return plugin.Platform{
		Name:                 "ios",
		Version:              "iOS " + cfg.SystemVersion,
		Gate:                 versionGate(cfg.SystemVersion),
		Capabilities:         capabilities{p: ped},
		StepEvents:           eventSource{p: ped},
		Windowed:             windowedSource{p: ped},
		Reference:            func() time.Time { return now().Add(-uptime()) },
		History:              historySource{p: ped},
		DetectionUnavailable: "Step Detection is not available",
		CounterUnavailable:   "Step Count is not available",
		DetectionChannels:    []string{ChannelStepDetection},
		CounterChannels:      []string{ChannelStepCount},
	}, nil
}

func versionGate(version string) pedometer.Gate {
	v := "v" + strings.TrimPrefix(strings.TrimSpace(version), "v")
	supported := semver.IsValid(v) && semver.Compare(v, "v"+MinimumVersion) >= 0
	return func() error {
		if !supported {
			return pedometer.UnsupportedVersion("Requires iOS " + MinimumVersion + " minimum")
		}
		return nil
	}
}

type capabilities struct {
	p Pedometer
}

func (c capabilities) StepCounting() bool  { return c.p.IsStepCountingAvailable() }
func (c capabilities) Distance() bool      { return c.p.IsDistanceAvailable() }
func (c capabilities) FloorCounting() bool { return c.p.IsFloorCountingAvailable() }
func (c capabilities) Pace() bool          { return c.p.IsPaceAvailable() }
func (c capabilities) Cadence() bool       { return c.p.IsCadenceAvailable() }
func (c capabilities) EventTracking() bool { return c.p.IsPedometerEventTrackingAvailable() }

// eventSource reports pedestrian state transitions; the payload is the raw
// event type code, not a step.
type eventSource struct {
	p Pedometer
}

func (s eventSource) StepDetectionAvailable() bool {
	return s.p.IsPedometerEventTrackingAvailable()
}

func (s eventSource) StartStepEvents(handler func(pedometer.StepEvent)) error {
	return s.p.StartEventUpdates(func(ev *PedometerEvent, err error) {
		if err != nil || ev == nil {
			return
		}
		handler(pedometer.StepEvent{Kind: pedometer.PedestrianState, Status: int(ev.Type), At: ev.Date})
	})
}

func (s eventSource) StopStepEvents() {
	s.p.StopEventUpdates()
}

type windowedSource struct {
	p Pedometer
}

func (s windowedSource) WindowedAvailable() bool {
	return s.p.IsStepCountingAvailable()
}

func (s windowedSource) StartWindowedUpdates(from time.Time, handler func(pedometer.WindowSample, error)) error {
	return s.p.StartUpdates(from, func(data *PedometerData, err error) {
		if err != nil {
			handler(pedometer.WindowSample{}, err)
			return
		}
		if data == nil {
			return
		}
		handler(data.sample(), nil)
	})
}

func (s windowedSource) StopWindowedUpdates() {
	s.p.StopUpdates()
}

type historySource struct {
	p Pedometer
}

func (s historySource) HistoryAvailable() bool {
	return s.p.IsStepCountingAvailable()
}

func (s historySource) QueryHistory(ctx context.Context, from, to time.Time) (pedometer.WindowSample, error) {
	data, err := s.p.QueryPedometerData(ctx, from, to)
	if err != nil {
		return pedometer.WindowSample{}, pedometer.QueryError(err.Error())
	}
	if data == nil {
		return pedometer.WindowSample{}, pedometer.QueryError(ErrNoData.Error())
	}
	return data.sample(), nil
}

func (d *PedometerData) sample() pedometer.WindowSample {
	return pedometer.WindowSample{
		Start:             d.StartDate,
		End:               d.EndDate,
		Steps:             d.NumberOfSteps,
		Distance:          d.Distance,
		AverageActivePace: d.AverageActivePace,
		CurrentPace:       d.CurrentPace,
		CurrentCadence:    d.CurrentCadence,
		FloorsAscended:    d.FloorsAscended,
		FloorsDescended:   d.FloorsDescended,
	}
}
