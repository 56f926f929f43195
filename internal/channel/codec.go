// Package channel implements the method-call and event-stream bridge between
// the pedometer plugin and the applications consuming it.
//
// Method channels carry request/response calls; event channels carry
// asynchronous streams opened and cancelled by the caller. Every handler entry
// point runs on a single Dispatcher so plugin state never needs locking.
package channel

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// MethodCall is a named invocation with optional arguments.
type MethodCall struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

// Argument returns the named argument when Arguments is a map.
func (c MethodCall) Argument(key string) (any, bool) {
	args, ok := c.Arguments.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := args[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Int64Argument returns the named argument as an int64. Numbers decoded from
// JSON arrive as float64 or json.Number; both are accepted as long as they hold
// an integral value.
func (c MethodCall) Int64Argument(key string) (int64, error) {
	v, ok := c.Argument(key)
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", key, err)
	}
	return n, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("out of int64 range: %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Error is the wire form of a failed call or a stream error event.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}
