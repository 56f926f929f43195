// Package plugin assembles a host platform's motion sources into the
// cm_pedometer method channel and its event channels.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sstent/pedometer-bridge/internal/channel"
	"github.com/sstent/pedometer-bridge/internal/pedometer"
)

// MethodChannel is the name of the plugin's method channel.
const MethodChannel = "cm_pedometer"

const (
	MethodGetPlatformVersion = "getPlatformVersion"
	MethodQueryPedometerData = "queryPedometerData"
)

// Platform is what a host contributes: its capability flags, the motion data
// source variants it implements and the names of its event channels. Exactly
// one of Counter and Windowed is set.
type Platform struct {
	Name    string
	Version string
	Gate    pedometer.Gate

	Capabilities pedometer.Capabilities
	StepEvents   pedometer.DiscreteStepSource
	Counter      pedometer.CumulativeCounterSource
	Windowed     pedometer.WindowedSource
	// Reference is the date windowed updates are counted from.
	Reference func() time.Time

	// History is nil on hosts without stored step history.
	History            pedometer.HistorySource
	HistoryUnsupported string

	// Messages sent on a stream whose source is missing.
	DetectionUnavailable string
	CounterUnavailable   string

	DetectionChannels []string
	CounterChannels   []string
}

func (p Platform) validate() error {
	if p.Capabilities == nil {
		return errors.New("platform has no capabilities")
	}
	if p.StepEvents == nil {
		return errors.New("platform has no step event source")
	}
	if (p.Counter == nil) == (p.Windowed == nil) {
		return errors.New("platform needs exactly one of a cumulative or a windowed counter")
	}
	if p.Windowed != nil && p.Reference == nil {
		return errors.New("windowed counter needs a reference date")
	}
	if len(p.DetectionChannels) == 0 || len(p.CounterChannels) == 0 {
		return errors.New("platform declares no event channels")
	}
	return nil
}

// MethodObserver is told the outcome of every method call.
type MethodObserver interface {
	ObserveMethod(method string, status channel.Status)
}

// Options carries the ambient dependencies of a Plugin.
type Options struct {
	Logger         *slog.Logger
	Now            func() time.Time
	Observer       pedometer.Observer
	MethodObserver MethodObserver
}

// Plugin answers the method surface and owns the stream adapters.
type Plugin struct {
	platform  Platform
	messenger *channel.Messenger
	log       *slog.Logger
	observer  MethodObserver

	capabilities *pedometer.CapabilityAdapter
	history      *pedometer.HistoryAdapter
	detection    *pedometer.StepDetectionAdapter
	counter      streamAdapter

	ctx    context.Context
	cancel context.CancelFunc
}

type streamAdapter interface {
	Handler(key string) channel.StreamHandler
}

// New builds the plugin for platform on top of messenger.
func New(platform Platform, messenger *channel.Messenger, opts Options) (*Plugin, error) {
	if err := platform.validate(); err != nil {
		return nil, fmt.Errorf("platform %s: %w", platform.Name, err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("platform", platform.Name)

	adapterOpts := pedometer.Options{
		Poster:   messenger.Dispatcher(),
		Logger:   log,
		Now:      opts.Now,
		Gate:     platform.Gate,
		Observer: opts.Observer,
	}

	p := &Plugin{
		platform:     platform,
		messenger:    messenger,
		log:          log,
		observer:     opts.MethodObserver,
		capabilities: pedometer.NewCapabilityAdapter(platform.Capabilities),
		history:      pedometer.NewHistoryAdapter(platform.History, platform.HistoryUnsupported, adapterOpts),
		detection:    pedometer.NewStepDetectionAdapter(platform.StepEvents, platform.DetectionUnavailable, adapterOpts),
	}
	if platform.Counter != nil {
		p.counter = pedometer.NewStepCounterAdapter(platform.Counter, platform.CounterUnavailable, adapterOpts)
	} else {
		p.counter = pedometer.NewWindowedCounterAdapter(platform.Windowed, platform.Reference, platform.CounterUnavailable, adapterOpts)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Register attaches the method channel and every event channel.
func (p *Plugin) Register() {
	p.messenger.SetMethodCallHandler(MethodChannel, p)
	for _, name := range p.platform.DetectionChannels {
		p.messenger.SetStreamHandler(name, p.detection.Handler(name))
	}
	for _, name := range p.platform.CounterChannels {
		p.messenger.SetStreamHandler(name, p.counter.Handler(name))
	}
	p.log.Info("plugin registered",
		"version", p.platform.Version,
		"detection_channels", p.platform.DetectionChannels,
		"counter_channels", p.platform.CounterChannels)
}

// Unregister detaches every channel and abandons pending queries.
func (p *Plugin) Unregister() {
	p.cancel()
	p.messenger.SetMethodCallHandler(MethodChannel, nil)
	for _, name := range p.platform.DetectionChannels {
		p.messenger.SetStreamHandler(name, nil)
	}
	for _, name := range p.platform.CounterChannels {
		p.messenger.SetStreamHandler(name, nil)
	}
}

// EventChannels lists the event channels of the platform.
func (p *Plugin) EventChannels() []string {
	names := make([]string, 0, len(p.platform.DetectionChannels)+len(p.platform.CounterChannels))
	names = append(names, p.platform.DetectionChannels...)
	return append(names, p.platform.CounterChannels...)
}

// HandleMethodCall runs on the dispatcher.
func (p *Plugin) HandleMethodCall(call channel.MethodCall, result channel.Result) {
	result = p.observed(call.Method, result)

	if available, ok := p.capabilities.Lookup(call.Method); ok {
		result.Success(available)
		return
	}

	switch call.Method {
	case MethodGetPlatformVersion:
		result.Success(p.platform.Version)
	case MethodQueryPedometerData:
		p.queryPedometerData(call, result)
	default:
		result.NotImplemented()
	}
}

// queryPedometerData runs the query off the dispatcher and posts the outcome
// back onto it.
func (p *Plugin) queryPedometerData(call channel.MethodCall, result channel.Result) {
	poster := p.messenger.Dispatcher()
	go func() {
		reading, err := p.history.Query(p.ctx, call)
		posted := poster.Post(func() {
			if err != nil {
				pe := pedometer.AsError(err)
				result.Error(pe.Code, pe.Message, nil)
				return
			}
			result.Success(reading.Map())
		})
		if !posted {
			result.Error(pedometer.CodeQueryError, "plugin detached", nil)
		}
	}()
}

func (p *Plugin) observed(method string, result channel.Result) channel.Result {
	if p.observer == nil {
		return result
	}
	return &observedResult{Result: result, method: method, observer: p.observer}
}

type observedResult struct {
	channel.Result
	method   string
	observer MethodObserver
}

func (r *observedResult) Success(v any) {
	r.observer.ObserveMethod(r.method, channel.StatusSuccess)
	r.Result.Success(v)
}

func (r *observedResult) Error(code, message string, details any) {
	r.observer.ObserveMethod(r.method, channel.StatusError)
	r.Result.Error(code, message, details)
}

func (r *observedResult) NotImplemented() {
	r.observer.ObserveMethod(r.method, channel.StatusNotImplemented)
	r.Result.NotImplemented()
}
