package channel

// EventSink receives the events of one open stream. An Error event does not
// end the stream.
type EventSink interface {
	Success(event any)
	Error(code, message string, details any)
	EndOfStream()
}

// StreamHandler backs an event channel. OnListen is called when a caller opens
// the stream and OnCancel when it closes it; both run on the dispatcher.
type StreamHandler interface {
	OnListen(arguments any, sink EventSink) error
	OnCancel(arguments any) error
}

// EventKind tags the wire form of an event.
type EventKind string

const (
	EventData  EventKind = "data"
	EventError EventKind = "error"
	EventEnd   EventKind = "end"
)

// Event is the serialisable form of one sink call.
type Event struct {
	Kind  EventKind `json:"kind"`
	Data  any       `json:"data,omitempty"`
	Error *Error    `json:"error,omitempty"`
}

// SinkFunc turns a function receiving Events into an EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Success(event any) {
	f(Event{Kind: EventData, Data: event})
}

func (f SinkFunc) Error(code, message string, details any) {
	f(Event{Kind: EventError, Error: &Error{Code: code, Message: message, Details: details}})
}

func (f SinkFunc) EndOfStream() {
	f(Event{Kind: EventEnd})
}
