package parser

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tormoder/fit"
)

func monitoring(at time.Time, kind fit.ActivityType, cycles uint32, distanceCm uint32) *fit.MonitoringMsg {
	m := fit.NewMonitoringMsg()
	m.Timestamp = at
	m.ActivityType = kind
	m.Cycles = cycles
	m.Distance = distanceCm
	return m
}

func TestStepSamplesDeltas(t *testing.T) {
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	msgs := []*fit.MonitoringMsg{
		monitoring(base, fit.ActivityTypeWalking, 100, 7000),
		monitoring(base.Add(15*time.Minute), fit.ActivityTypeWalking, 160, 11500),
		monitoring(base.Add(20*time.Minute), fit.ActivityTypeRunning, 400, 0xFFFFFFFF),
		monitoring(base.Add(30*time.Minute), fit.ActivityTypeWalking, 160, 11500),
		monitoring(base.Add(45*time.Minute), fit.ActivityTypeRunning, 650, 0xFFFFFFFF),
		monitoring(base.Add(50*time.Minute), fit.ActivityTypeCycling, 900, 50000),
	}

	samples := StepSamples(msgs)
	require.Len(t, samples, 4)

	assert.Equal(t, 100, samples[0].Steps)
	require.NotNil(t, samples[0].Distance)
	assert.InDelta(t, 70.0, *samples[0].Distance, 1e-9)

	assert.Equal(t, 60, samples[1].Steps)
	require.NotNil(t, samples[1].Distance)
	assert.InDelta(t, 45.0, *samples[1].Distance, 1e-9)

	assert.Equal(t, 400, samples[2].Steps)
	assert.Nil(t, samples[2].Distance)
	assert.Equal(t, 250, samples[3].Steps)
	assert.True(t, samples[3].At.Equal(base.Add(45*time.Minute)))
}

func TestStepSamplesCounterReset(t *testing.T) {
	base := time.Date(2026, 5, 4, 23, 45, 0, 0, time.UTC)
	samples := StepSamples([]*fit.MonitoringMsg{
		monitoring(base, fit.ActivityTypeWalking, 9000, 0xFFFFFFFF),
		monitoring(base.Add(30*time.Minute), fit.ActivityTypeWalking, 40, 0xFFFFFFFF),
	})
	require.Len(t, samples, 2)
	assert.Equal(t, 40, samples[1].Steps)
}

func TestStepSamplesOrdersAndSkipsInvalid(t *testing.T) {
	base := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	samples := StepSamples([]*fit.MonitoringMsg{
		monitoring(base.Add(time.Hour), fit.ActivityTypeWalking, 300, 0xFFFFFFFF),
		nil,
		monitoring(time.Time{}, fit.ActivityTypeWalking, 50, 0xFFFFFFFF),
		monitoring(base, fit.ActivityTypeWalking, 120, 0xFFFFFFFF),
		monitoring(base.Add(2*time.Hour), fit.ActivityTypeWalking, 0xFFFFFFFF, 0xFFFFFFFF),
	})
	require.Len(t, samples, 2)
	assert.Equal(t, 120, samples[0].Steps)
	assert.Equal(t, 180, samples[1].Steps)
}

func TestDetectFileTypeFromData(t *testing.T) {
	header := []byte{14, 0x10, 0, 0, 0, 0, 0, 0, '.', 'F', 'I', 'T', 0, 0}
	assert.Equal(t, FileTypeFIT, DetectFileTypeFromData(header))
	assert.Equal(t, FileTypeUnknown, DetectFileTypeFromData([]byte("<?xml version")))
	assert.Equal(t, FileTypeUnknown, DetectFileTypeFromData([]byte{1, 2, 3}))

	// a signature behind an impossible header size is not a FIT file
	bad := append([]byte{40}, header[1:]...)
	assert.Equal(t, FileTypeUnknown, DetectFileTypeFromData(bad))

	legacy := append([]byte{12}, header[1:12]...)
	kind, err := DetectFileTypeFromReader(bytes.NewReader(legacy))
	require.NoError(t, err)
	assert.Equal(t, FileTypeFIT, kind)
}

func TestParseRejectsGarbage(t *testing.T) {
	p := NewMonitoringParser()
	_, err := p.ParseData([]byte("definitely not fit"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.fit")
	require.NoError(t, os.WriteFile(path, []byte{14, 0x10, 0, 0, 0, 0, 0, 0, '.', 'F', 'I', 'T', 0, 0}, 0o644))
	_, err = p.ParseFile(path)
	assert.Error(t, err)

	kind, err := DetectFileType(path)
	require.NoError(t, err)
	assert.Equal(t, FileTypeFIT, kind)
}
