package channel

import (
	"context"
	"sync"
)

// Result receives the outcome of a method call. Exactly one of its methods is
// honoured per call; later calls are ignored.
type Result interface {
	Success(result any)
	Error(code, message string, details any)
	NotImplemented()
}

// MethodHandler handles calls arriving on a method channel.
type MethodHandler interface {
	HandleMethodCall(call MethodCall, result Result)
}

// MethodHandlerFunc adapts a function to MethodHandler.
type MethodHandlerFunc func(call MethodCall, result Result)

func (f MethodHandlerFunc) HandleMethodCall(call MethodCall, result Result) {
	f(call, result)
}

// Status tells which Result method completed a call.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
	StatusNotImplemented Status = "notImplemented"
)

// Envelope is the serialisable outcome of a method call.
type Envelope struct {
	Status Status `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Reply is a Result that can be awaited. It is safe to complete from any
// goroutine.
type Reply struct {
	once     sync.Once
	done     chan struct{}
	envelope Envelope
}

func NewReply() *Reply {
	return &Reply{done: make(chan struct{})}
}

func (r *Reply) complete(env Envelope) {
	r.once.Do(func() {
		r.envelope = env
		close(r.done)
	})
}

func (r *Reply) Success(result any) {
	r.complete(Envelope{Status: StatusSuccess, Result: result})
}

func (r *Reply) Error(code, message string, details any) {
	r.complete(Envelope{Status: StatusError, Error: &Error{Code: code, Message: message, Details: details}})
}

func (r *Reply) NotImplemented() {
	r.complete(Envelope{Status: StatusNotImplemented})
}

// Wait blocks until the reply is completed or ctx ends.
func (r *Reply) Wait(ctx context.Context) (Envelope, error) {
	select {
	case <-r.done:
		return r.envelope, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
