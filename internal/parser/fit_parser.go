package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/tormoder/fit"

	"github.com/sstent/pedometer-bridge/internal/models"
)

// ErrNotMonitoring is returned for FIT files that hold no monitoring data.
var ErrNotMonitoring = errors.New("not a monitoring FIT file")

const invalidCycles = 0xFFFFFFFF

// MonitoringParser turns FIT wellness monitoring files into step samples.
type MonitoringParser struct{}

func NewMonitoringParser() *MonitoringParser {
	return &MonitoringParser{}
}

func (p *MonitoringParser) ParseFile(filename string) ([]models.StepSample, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	samples, err := p.Parse(file)
	if err != nil {
		return nil, err
	}
	source := "fit:" + filepath.Base(filename)
	for i := range samples {
		samples[i].Source = source
	}
	return samples, nil
}

func (p *MonitoringParser) ParseData(data []byte) ([]models.StepSample, error) {
	if DetectFileTypeFromData(data) != FileTypeFIT {
		return nil, fmt.Errorf("invalid FIT file signature")
	}
	return p.Parse(bytes.NewReader(data))
}

func (p *MonitoringParser) Parse(r io.Reader) ([]models.StepSample, error) {
	fitFile, err := fit.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FIT file: %w", err)
	}

	var msgs []*fit.MonitoringMsg
	switch fitFile.Type() {
	case fit.FileTypeMonitoringA:
		mon, err := fitFile.MonitoringA()
		if err != nil {
			return nil, fmt.Errorf("failed to get monitoring from FIT: %w", err)
		}
		msgs = mon.Monitorings
	case fit.FileTypeMonitoringB:
		mon, err := fitFile.MonitoringB()
		if err != nil {
			return nil, fmt.Errorf("failed to get monitoring from FIT: %w", err)
		}
		msgs = mon.Monitorings
	default:
		return nil, fmt.Errorf("%w: file type %v", ErrNotMonitoring, fitFile.Type())
	}

	return StepSamples(msgs), nil
}

type counters struct {
	cycles   uint32
	distance float64
	seen     bool
}

// StepSamples converts monitoring records into step deltas. Devices report
// cycles and distance cumulatively per activity type since the start of the
// day; a drop in a counter is a reset and the new value is taken whole.
// Only walking and running records count, where a cycle is a step.
func StepSamples(msgs []*fit.MonitoringMsg) []models.StepSample {
	ordered := make([]*fit.MonitoringMsg, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Timestamp.IsZero() || !countsSteps(m.ActivityType) || m.Cycles == invalidCycles {
			continue
		}
		ordered = append(ordered, m)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	last := map[fit.ActivityType]*counters{}
	var samples []models.StepSample
	for _, m := range ordered {
		c := last[m.ActivityType]
		if c == nil {
			c = &counters{}
			last[m.ActivityType] = c
		}

		steps := m.Cycles
		if c.seen && m.Cycles >= c.cycles {
			steps = m.Cycles - c.cycles
		}
		c.cycles = m.Cycles

		var distance *float64
		if d := m.GetDistanceScaled(); !math.IsNaN(d) {
			delta := d
			if c.seen && d >= c.distance {
				delta = d - c.distance
			}
			c.distance = d
			if delta > 0 {
				distance = &delta
			}
		}
		c.seen = true

		if steps == 0 && distance == nil {
			continue
		}
		samples = append(samples, models.StepSample{
			At:       m.Timestamp,
			Steps:    int(steps),
			Distance: distance,
		})
	}
	return samples
}

func countsSteps(t fit.ActivityType) bool {
	return t == fit.ActivityTypeWalking || t == fit.ActivityTypeRunning
}
