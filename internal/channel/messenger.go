package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNoHandler is returned for calls on channels nobody registered.
var ErrNoHandler = errors.New("no handler registered for channel")

// Messenger routes calls and stream requests to the handlers registered under
// a channel name, always through its Dispatcher.
type Messenger struct {
	dispatcher *Dispatcher
	log        *slog.Logger

	mu      sync.RWMutex
	methods map[string]MethodHandler
	streams map[string]*eventChannel
}

// eventChannel state is only touched on the dispatcher.
type eventChannel struct {
	name    string
	handler StreamHandler
	active  bool
}

func NewMessenger(d *Dispatcher, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}
	return &Messenger{
		dispatcher: d,
		log:        log,
		methods:    make(map[string]MethodHandler),
		streams:    make(map[string]*eventChannel),
	}
}

// Dispatcher returns the context every handler runs on.
func (m *Messenger) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// SetMethodCallHandler registers h for name. A nil handler removes it.
func (m *Messenger) SetMethodCallHandler(name string, h MethodHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.methods, name)
		return
	}
	m.methods[name] = h
}

// SetStreamHandler registers h for the event channel name. A nil handler
// removes it.
func (m *Messenger) SetStreamHandler(name string, h StreamHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.streams, name)
		return
	}
	m.streams[name] = &eventChannel{name: name, handler: h}
}

// MethodChannels lists the registered method channel names.
func (m *Messenger) MethodChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamChannels lists the registered event channel names.
func (m *Messenger) StreamChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.streams))
	for name := range m.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasStream reports whether name is a registered event channel.
func (m *Messenger) HasStream(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[name]
	return ok
}

// InvokeMethod delivers call to the handler of channel name and waits for its
// result.
func (m *Messenger) InvokeMethod(ctx context.Context, name string, call MethodCall) (Envelope, error) {
	m.mu.RLock()
	h, ok := m.methods[name]
	m.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNoHandler, name)
	}

	reply := NewReply()
	if !m.dispatcher.Post(func() { h.HandleMethodCall(call, reply) }) {
		return Envelope{}, ErrDispatcherClosed
	}
	return reply.Wait(ctx)
}

// Listen opens the stream of channel name towards sink. Listening on an
// active channel cancels the previous listener first.
func (m *Messenger) Listen(ctx context.Context, name string, arguments any, sink EventSink) error {
	ch, err := m.stream(name)
	if err != nil {
		return err
	}

	var listenErr error
	if err := m.dispatcher.Do(ctx, func() {
		if ch.active {
			if err := ch.handler.OnCancel(nil); err != nil {
				m.log.Warn("cancel before relisten failed", "channel", name, "error", err)
			}
		}
		if err := ch.handler.OnListen(arguments, sink); err != nil {
			ch.active = false
			listenErr = err
			return
		}
		ch.active = true
	}); err != nil {
		return err
	}
	if listenErr != nil {
		return fmt.Errorf("listen %s: %w", name, listenErr)
	}
	return nil
}

// Cancel closes the stream of channel name. Cancelling an idle channel is a
// no-op.
func (m *Messenger) Cancel(ctx context.Context, name string, arguments any) error {
	ch, err := m.stream(name)
	if err != nil {
		return err
	}

	var cancelErr error
	if err := m.dispatcher.Do(ctx, func() {
		if !ch.active {
			return
		}
		ch.active = false
		cancelErr = ch.handler.OnCancel(arguments)
	}); err != nil {
		return err
	}
	if cancelErr != nil {
		return fmt.Errorf("cancel %s: %w", name, cancelErr)
	}
	return nil
}

func (m *Messenger) stream(name string) (*eventChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, name)
	}
	return ch, nil
}
