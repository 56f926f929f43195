package plugin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/pedometer"
)

type stubSource struct {
	mu      sync.Mutex
	counter func(pedometer.CounterSample)
	steps   func(pedometer.StepEvent)
}

func (s *stubSource) StepDetectionAvailable() bool { return true }

func (s *stubSource) StartStepEvents(h func(pedometer.StepEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = h
	return nil
}

func (s *stubSource) StopStepEvents() {}

func (s *stubSource) CounterAvailable() bool { return true }

func (s *stubSource) StartCounter(h func(pedometer.CounterSample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = h
	return nil
}

func (s *stubSource) StopCounter() {}

func (s *stubSource) emitCounter(v float64) {
	s.mu.Lock()
	h := s.counter
	s.mu.Unlock()
	h(pedometer.CounterSample{Cumulative: v})
}

type stubHistory struct{}

func (stubHistory) HistoryAvailable() bool { return true }

func (stubHistory) QueryHistory(_ context.Context, from, to time.Time) (pedometer.WindowSample, error) {
	return pedometer.WindowSample{Start: from, End: to, Steps: 77}, nil
}

type methodCounts struct {
	mu     sync.Mutex
	counts map[string]channel.Status
}

func (m *methodCounts) ObserveMethod(method string, status channel.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[method] = status
}

func newTestPlugin(t *testing.T, history pedometer.HistorySource) (*Plugin, *channel.Messenger, *stubSource, *methodCounts) {
	t.Helper()
	d := channel.NewDispatcher(32, nil)
	t.Cleanup(d.Close)
	m := channel.NewMessenger(d, nil)
	src := &stubSource{}
	observer := &methodCounts{counts: map[string]channel.Status{}}

	p, err := New(Platform{
		Name:               "test",
		Version:            "Test 1.0",
		Capabilities:       pedometer.StaticCapabilities{StepCountingAvailable: true},
		StepEvents:         src,
		Counter:            src,
		History:            history,
		HistoryUnsupported: "Querying pedometer data is not supported on Test",
		DetectionChannels:  []string{"step_detection"},
		CounterChannels:    []string{"step_counter_first", "step_counter_second", "step_counter_third"},
	}, m, Options{MethodObserver: observer})
	require.NoError(t, err)
	p.Register()
	return p, m, src, observer
}

func invoke(t *testing.T, m *channel.Messenger, method string, args any) channel.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := m.InvokeMethod(ctx, MethodChannel, channel.MethodCall{Method: method, Arguments: args})
	require.NoError(t, err)
	return env
}

func TestCapabilityMethods(t *testing.T) {
	_, m, _, _ := newTestPlugin(t, nil)

	assert.Equal(t, true, invoke(t, m, "isStepCountingAvailable", nil).Result)
	for _, method := range []string{"isDistanceAvailable", "isFloorCountingAvailable", "isPaceAvailable", "isCadenceAvailable", "isPedometerEventTrackingAvailable"} {
		env := invoke(t, m, method, nil)
		assert.Equal(t, channel.StatusSuccess, env.Status, method)
		assert.Equal(t, false, env.Result, method)
	}
}

func TestUnknownMethodNotImplemented(t *testing.T) {
	_, m, _, observer := newTestPlugin(t, nil)

	env := invoke(t, m, "showAlert", nil)
	assert.Equal(t, channel.StatusNotImplemented, env.Status)
	assert.Nil(t, env.Error)
	assert.Equal(t, channel.StatusNotImplemented, observer.counts["showAlert"])
}

func TestPlatformVersion(t *testing.T) {
	_, m, _, _ := newTestPlugin(t, nil)
	assert.Equal(t, "Test 1.0", invoke(t, m, MethodGetPlatformVersion, nil).Result)
}

func TestQueryWithoutHistorySupport(t *testing.T) {
	_, m, _, _ := newTestPlugin(t, nil)

	env := invoke(t, m, MethodQueryPedometerData, map[string]any{
		"startTime": 1700000000000, "endTime": 1700003600000,
	})
	require.Equal(t, channel.StatusError, env.Status)
	assert.Equal(t, pedometer.CodeUnavailable, env.Error.Code)
	assert.Equal(t, "Querying pedometer data is not supported on Test", env.Error.Message)
}

func TestQueryWithHistory(t *testing.T) {
	_, m, _, _ := newTestPlugin(t, stubHistory{})

	env := invoke(t, m, MethodQueryPedometerData, map[string]any{
		"startTime": 1700000000000, "endTime": 1700003600000,
	})
	require.Equal(t, channel.StatusSuccess, env.Status)
	reading := env.Result.(map[string]any)
	assert.Equal(t, 77, reading["numberOfSteps"])
	assert.Equal(t, int64(1700003600000), reading["endDate"])

	env = invoke(t, m, MethodQueryPedometerData, map[string]any{"startTime": 1700000000000})
	require.Equal(t, channel.StatusError, env.Status)
	assert.Equal(t, pedometer.CodeInvalidArguments, env.Error.Code)

	env = invoke(t, m, MethodQueryPedometerData, map[string]any{"startTime": 1e300, "endTime": 1700003600000})
	require.Equal(t, channel.StatusError, env.Status)
	assert.Equal(t, pedometer.CodeInvalidArguments, env.Error.Code)
}

func TestCounterChannelsShareRegistration(t *testing.T) {
	_, m, src, _ := newTestPlugin(t, nil)
	ctx := context.Background()

	var mu sync.Mutex
	got := map[string][]int{}
	sinkFor := func(name string) channel.EventSink {
		return channel.SinkFunc(func(e channel.Event) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], e.Data.(map[string]any)["numberOfSteps"].(int))
		})
	}

	require.NoError(t, m.Listen(ctx, "step_counter_first", nil, sinkFor("first")))
	require.NoError(t, m.Listen(ctx, "step_counter_second", nil, sinkFor("second")))
	src.emitCounter(40)
	src.emitCounter(44)
	require.NoError(t, m.Dispatcher().Do(ctx, func() {}))

	mu.Lock()
	assert.Equal(t, []int{0, 4}, got["first"])
	assert.Equal(t, []int{0, 4}, got["second"])
	mu.Unlock()

	require.NoError(t, m.Cancel(ctx, "step_counter_first", nil))
	require.NoError(t, m.Cancel(ctx, "step_counter_second", nil))
	require.NoError(t, m.Listen(ctx, "step_counter_third", nil, sinkFor("third")))
	src.emitCounter(100)
	require.NoError(t, m.Dispatcher().Do(ctx, func() {}))

	mu.Lock()
	assert.Equal(t, []int{0}, got["third"], "a fresh registration captures a fresh baseline")
	mu.Unlock()
}

func TestUnregisterDetachesChannels(t *testing.T) {
	p, m, _, _ := newTestPlugin(t, nil)
	assert.ElementsMatch(t, p.EventChannels(), m.StreamChannels())

	p.Unregister()
	assert.Empty(t, m.StreamChannels())
	assert.Empty(t, m.MethodChannels())
}

func TestPlatformValidation(t *testing.T) {
	d := channel.NewDispatcher(1, nil)
	defer d.Close()
	m := channel.NewMessenger(d, nil)
	src := &stubSource{}

	_, err := New(Platform{Name: "x", Capabilities: pedometer.StaticCapabilities{}, StepEvents: src}, m, Options{})
	assert.Error(t, err)

	_, err = New(Platform{
		Name: "x", Capabilities: pedometer.StaticCapabilities{}, StepEvents: src, Counter: src,
		DetectionChannels: []string{"a"},
	}, m, Options{})
	assert.Error(t, err)
}
