package pedometer

import (
	"time"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

// WindowedCounterAdapter relays the samples of a source that tracks its own
// window, so no baseline is kept here.
type WindowedCounterAdapter struct {
	source    WindowedSource
	reference func() time.Time
	stream    *stream
}

// NewWindowedCounterAdapter relays updates counted from reference(), which is
// evaluated each time the native registration starts. unavailable is the
// message sent on a stream opened while step counting is missing.
func NewWindowedCounterAdapter(source WindowedSource, reference func() time.Time, unavailable string, opts Options) *WindowedCounterAdapter {
	if unavailable == "" {
		unavailable = "step count is not available"
	}
	a := &WindowedCounterAdapter{source: source, reference: reference}
	a.stream = newStream("step_count", opts, source.WindowedAvailable, Unavailable(unavailable))
	a.stream.start = a.start
	a.stream.stop = source.StopWindowedUpdates
	return a
}

// Handler returns the stream handler serving the channel identity key.
func (a *WindowedCounterAdapter) Handler(key string) channel.StreamHandler {
	return keyedHandler{s: a.stream, key: key}
}

func (a *WindowedCounterAdapter) start(gen uint64) error {
	return a.source.StartWindowedUpdates(a.reference(), func(sample WindowSample, err error) {
		if err != nil {
			a.stream.log.Debug("windowed update failed", "error", err)
			return
		}
		a.stream.post(gen, func() {
			a.stream.emit(sample.Reading().Map())
		})
	})
}
