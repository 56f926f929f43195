package sensorhub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/models"
	"github.com/sstent/pedometer-bridge/internal/platform/android"
	"github.com/sstent/pedometer-bridge/internal/plugin"
)

type recorder struct {
	mu     sync.Mutex
	events []android.SensorEvent
}

func (r *recorder) OnSensorChanged(e android.SensorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnAccuracyChanged(*android.Sensor, int) {}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) values() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float32
	for _, e := range r.events {
		out = append(out, e.Values[0])
	}
	return out
}

func newHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	h := New(cfg)
	t.Cleanup(h.Close)
	return h
}

func TestSamplesBecomeSensorEvents(t *testing.T) {
	h := newHub(t, Config{StepDetector: true, StepCounter: true})
	ctx := context.Background()

	detector, counter := &recorder{}, &recorder{}
	require.True(t, h.RegisterListener(detector, h.DefaultSensor(android.TypeStepDetector), android.DelayNormal))
	require.True(t, h.RegisterListener(counter, h.DefaultSensor(android.TypeStepCounter), android.DelayNormal))

	require.NoError(t, h.RecordSteps(ctx, models.StepSample{At: time.Now(), Steps: 3}))
	require.NoError(t, h.RecordSteps(ctx, models.StepSample{Steps: 0}))
	require.NoError(t, h.RecordSteps(ctx, models.StepSample{At: time.Now(), Steps: 2}))

	require.Eventually(t, func() bool { return detector.count() == 5 && counter.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float32{3, 5}, counter.values())
	assert.Equal(t, float64(5), h.Total())

	h.UnregisterListener(counter)
	assert.Equal(t, 1, h.Listeners())
}

func TestProfileWithoutSensors(t *testing.T) {
	h := newHub(t, Config{StepCounter: true})
	assert.Nil(t, h.DefaultSensor(android.TypeStepDetector))

	foreign := &android.Sensor{Type: android.TypeStepCounter}
	assert.False(t, h.RegisterListener(&recorder{}, foreign, android.DelayNormal))
	assert.False(t, h.RegisterListener(&recorder{}, nil, android.DelayNormal))
}

func TestRecordAfterClose(t *testing.T) {
	h := New(Config{StepCounter: true})
	h.Close()
	h.Close()

	assert.ErrorIs(t, h.RecordSteps(context.Background(), models.StepSample{Steps: 1}), ErrClosed)
	assert.Error(t, h.RecordSteps(context.Background(), models.StepSample{Steps: -1}))
}

func TestHubDrivesAndroidPlugin(t *testing.T) {
	h := newHub(t, Config{StepDetector: true, StepCounter: true})
	ctx := context.Background()

	// Steps before anyone listens still advance the counter since boot.
	probe := &recorder{}
	require.True(t, h.RegisterListener(probe, h.DefaultSensor(android.TypeStepCounter), android.DelayNormal))
	require.NoError(t, h.RecordSteps(ctx, models.StepSample{Steps: 1000}))
	require.Eventually(t, func() bool { return probe.count() == 1 }, time.Second, 5*time.Millisecond)
	h.UnregisterListener(probe)

	d := channel.NewDispatcher(32, nil)
	t.Cleanup(d.Close)
	m := channel.NewMessenger(d, nil)
	platform, err := android.NewPlatform(android.Config{Release: "14", SDKInt: 34, Manager: h})
	require.NoError(t, err)
	p, err := plugin.New(platform, m, plugin.Options{})
	require.NoError(t, err)
	p.Register()

	var mu sync.Mutex
	var steps []int
	sink := channel.SinkFunc(func(ev channel.Event) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, ev.Data.(map[string]any)["numberOfSteps"].(int))
	})
	require.NoError(t, m.Listen(ctx, android.ChannelStepCounterFirst, nil, sink))

	require.NoError(t, h.RecordSteps(ctx, models.StepSample{Steps: 4}))
	require.NoError(t, h.RecordSteps(ctx, models.StepSample{Steps: 6}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(steps) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{0, 6}, steps)
	mu.Unlock()

	require.NoError(t, m.Cancel(ctx, android.ChannelStepCounterFirst, nil))
	assert.Equal(t, 0, h.Listeners())
}
