package pedometer

import (
	"log/slog"
	"time"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

// Observer is notified of stream activity. Implementations must be safe for
// use from the dispatcher.
type Observer interface {
	ObserveEvent(stream string, kind channel.EventKind)
	ObserveSubscribers(stream string, n int)
}

// Options configures the adapters.
type Options struct {
	// Poster is the dispatch context all callbacks are marshalled onto.
	Poster Poster
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Gate runs before any source is touched.
	Gate     Gate
	Observer Observer
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

// stream is one shared native registration fanned out to every keyed sink.
// All fields are owned by the dispatcher.
type stream struct {
	name        string
	opts        Options
	log         *slog.Logger
	available   func() bool
	unavailable *Error
	start       func(gen uint64) error
	stop        func()
	// onLeave runs after a key's sink is dropped.
	onLeave func(key string)

	sinks   map[string]channel.EventSink
	running bool
	gen     uint64
}

func newStream(name string, opts Options, available func() bool, unavailable *Error) *stream {
	return &stream{
		name:        name,
		opts:        opts,
		log:         opts.logger().With("stream", name),
		available:   available,
		unavailable: unavailable,
		sinks:       make(map[string]channel.EventSink),
	}
}

func (s *stream) listen(key string, sink channel.EventSink) error {
	if s.opts.Gate != nil {
		if err := s.opts.Gate(); err != nil {
			s.fail(key, sink, AsError(err))
			return nil
		}
	}
	if !s.available() {
		s.fail(key, sink, s.unavailable)
		return nil
	}

	s.sinks[key] = sink
	s.observeSubscribers(key)
	if s.running {
		return nil
	}

	s.gen++
	if err := s.start(s.gen); err != nil {
		delete(s.sinks, key)
		s.observeSubscribers(key)
		s.log.Error("native registration failed", "error", err)
		s.fail(key, sink, Unavailable(err.Error()))
		return nil
	}
	s.running = true
	s.log.Debug("native registration started", "subscriber", key)
	return nil
}

func (s *stream) cancel(key string) {
	if _, ok := s.sinks[key]; !ok {
		return
	}
	delete(s.sinks, key)
	s.observeSubscribers(key)
	if s.onLeave != nil {
		s.onLeave(key)
	}
	if len(s.sinks) > 0 || !s.running {
		return
	}

	s.stop()
	s.running = false
	s.gen++
	s.log.Debug("native registration stopped", "subscriber", key)
}

// post marshals fn onto the dispatcher. fn is dropped when the registration
// it was produced for has been torn down in the meantime.
func (s *stream) post(gen uint64, fn func()) {
	ok := s.opts.Poster.Post(func() {
		if !s.running || gen != s.gen || len(s.sinks) == 0 {
			return
		}
		fn()
	})
	if !ok {
		s.log.Debug("dispatcher closed, dropping sensor callback")
	}
}

func (s *stream) emit(event any) {
	s.emitEach(func(string) any { return event })
}

// emitEach sends every subscriber the event built for its key.
func (s *stream) emitEach(event func(key string) any) {
	for key, sink := range s.sinks {
		sink.Success(event(key))
		if s.opts.Observer != nil {
			s.opts.Observer.ObserveEvent(key, channel.EventData)
		}
	}
}

func (s *stream) fail(key string, sink channel.EventSink, err *Error) {
	sink.Error(err.Code, err.Message, nil)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveEvent(key, channel.EventError)
	}
}

func (s *stream) observeSubscribers(key string) {
	if s.opts.Observer == nil {
		return
	}
	n := 0
	if _, ok := s.sinks[key]; ok {
		n = 1
	}
	s.opts.Observer.ObserveSubscribers(key, n)
}

// keyedHandler exposes one channel identity of a shared stream.
type keyedHandler struct {
	s   *stream
	key string
}

func (h keyedHandler) OnListen(_ any, sink channel.EventSink) error {
	return h.s.listen(h.key, sink)
}

func (h keyedHandler) OnCancel(any) error {
	h.s.cancel(h.key)
	return nil
}
