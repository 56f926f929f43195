package pedometer

import (
	"time"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

// StepCounterAdapter turns a cumulative counter into session-relative step
// counts. Every channel identity sharing the native registration keeps its
// own baseline, captured from the first sample it receives and dropped when
// it cancels, so deltas never carry over from one subscription to the next.
type StepCounterAdapter struct {
	source    CumulativeCounterSource
	opts      Options
	stream    *stream
	baselines map[string]*Baseline
}

// NewStepCounterAdapter builds the adapter. unavailable is the message sent
// on a stream opened while the counter is missing.
func NewStepCounterAdapter(source CumulativeCounterSource, unavailable string, opts Options) *StepCounterAdapter {
	if unavailable == "" {
		unavailable = "step counter sensor not available"
	}
	a := &StepCounterAdapter{source: source, opts: opts, baselines: make(map[string]*Baseline)}
	a.stream = newStream("step_counter", opts, source.CounterAvailable, Unavailable(unavailable))
	a.stream.start = a.start
	a.stream.stop = source.StopCounter
	a.stream.onLeave = func(key string) { delete(a.baselines, key) }
	return a
}

// Handler returns the stream handler serving the channel identity key. All
// identities share one native registration.
func (a *StepCounterAdapter) Handler(key string) channel.StreamHandler {
	return keyedHandler{s: a.stream, key: key}
}

// Baseline returns the baseline captured for key, if its session has seen a
// sample yet.
func (a *StepCounterAdapter) Baseline(key string) (float64, bool) {
	b, ok := a.baselines[key]
	if !ok {
		return 0, false
	}
	return b.Value()
}

func (a *StepCounterAdapter) start(gen uint64) error {
	return a.source.StartCounter(func(sample CounterSample) {
		arrived := a.opts.now()
		a.stream.post(gen, func() {
			a.deliver(sample, arrived)
		})
	})
}

func (a *StepCounterAdapter) deliver(sample CounterSample, arrived time.Time) {
	a.stream.emitEach(func(key string) any {
		b, ok := a.baselines[key]
		if !ok {
			b = &Baseline{}
			a.baselines[key] = b
		}
		steps := b.Delta(sample.Cumulative)
		if steps < 0 {
			a.stream.log.Warn("cumulative counter went backwards", "subscriber", key, "cumulative", sample.Cumulative)
		}
		return CounterReading(steps, arrived).Map()
	})
}
