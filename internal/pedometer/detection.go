package pedometer

import "github.com/sstent/pedometer-bridge/internal/channel"

// StepDetectionAdapter streams one event per detected step, or per walking
// state transition on hosts that model pedestrian state instead.
type StepDetectionAdapter struct {
	source DiscreteStepSource
	stream *stream
}

// NewStepDetectionAdapter builds the adapter. unavailable is the message sent
// on a stream opened while step detection is missing.
func NewStepDetectionAdapter(source DiscreteStepSource, unavailable string, opts Options) *StepDetectionAdapter {
	if unavailable == "" {
		unavailable = "step detection is not available"
	}
	a := &StepDetectionAdapter{source: source}
	a.stream = newStream("step_detection", opts, source.StepDetectionAvailable, Unavailable(unavailable))
	a.stream.start = a.start
	a.stream.stop = source.StopStepEvents
	return a
}

// Handler returns the stream handler serving the channel identity key.
func (a *StepDetectionAdapter) Handler(key string) channel.StreamHandler {
	return keyedHandler{s: a.stream, key: key}
}

func (a *StepDetectionAdapter) start(gen uint64) error {
	return a.source.StartStepEvents(func(e StepEvent) {
		a.stream.post(gen, func() {
			a.stream.emit(e.Payload())
		})
	})
}
