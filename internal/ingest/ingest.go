// Package ingest feeds live step telemetry into the active motion backend:
// JSON samples from an MQTT bridge and FIT monitoring files dropped into a
// watched directory.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sstent/pedometer-bridge/internal/models"
)

// Sink receives step samples. The sensor hub and the motion engine implement it.
type Sink interface {
	RecordSteps(ctx context.Context, sample models.StepSample) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, sample models.StepSample) error

func (f SinkFunc) RecordSteps(ctx context.Context, sample models.StepSample) error {
	return f(ctx, sample)
}

// Outcomes reported to an Observer.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Observer counts ingested samples by feed and outcome.
type Observer interface {
	ObserveIngest(source, outcome string)
}

// Options carries the ambient dependencies of a feed.
type Options struct {
	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
	// Settle is how long a dropped file must stay unchanged before import.
	Settle time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) observe(source, outcome string) {
	if o.Observer != nil {
		o.Observer.ObserveIngest(source, outcome)
	}
}

// ErrInvalidPayload marks telemetry that could not be turned into a sample.
var ErrInvalidPayload = errors.New("invalid step payload")

// Payload is the JSON telemetry message. Timestamp is either an RFC 3339
// string or milliseconds since the epoch; when absent the arrival time is used.
type Payload struct {
	Timestamp       Timestamp `json:"timestamp"`
	Steps           *int      `json:"steps"`
	Distance        *float64  `json:"distance,omitempty"`
	FloorsAscended  *int      `json:"floorsAscended,omitempty"`
	FloorsDescended *int      `json:"floorsDescended,omitempty"`
}

// Timestamp accepts both wire forms of a sample time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return err
		}
		ms = int64(f)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// ParsePayload decodes a telemetry message into a sample stamped now when the
// message carries no timestamp.
func ParsePayload(data []byte, now time.Time) (models.StepSample, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return models.StepSample{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Steps == nil {
		return models.StepSample{}, fmt.Errorf("%w: steps missing", ErrInvalidPayload)
	}
	if *p.Steps < 0 {
		return models.StepSample{}, fmt.Errorf("%w: negative steps %d", ErrInvalidPayload, *p.Steps)
	}
	if p.Distance != nil && *p.Distance < 0 {
		return models.StepSample{}, fmt.Errorf("%w: negative distance", ErrInvalidPayload)
	}
	at := p.Timestamp.Time
	if at.IsZero() {
		at = now
	}
	return models.StepSample{
		At:              at,
		Steps:           *p.Steps,
		Distance:        p.Distance,
		FloorsAscended:  p.FloorsAscended,
		FloorsDescended: p.FloorsDescended,
	}, nil
}
