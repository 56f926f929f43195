package pedometer

import (
	"context"

	"github.com/sstent/pedometer-bridge/internal/channel"
)

// Argument names of the history query.
const (
	ArgStartTime = "startTime"
	ArgEndTime   = "endTime"
)

// HistoryAdapter issues one windowed query against stored step history. A
// nil source means the platform cannot answer history queries at all.
type HistoryAdapter struct {
	source      HistorySource
	unsupported string
	opts        Options
}

// NewHistoryAdapter builds the adapter. unsupported is the message returned
// when the platform has no history support.
func NewHistoryAdapter(source HistorySource, unsupported string, opts Options) *HistoryAdapter {
	if unsupported == "" {
		unsupported = "querying pedometer data is not supported"
	}
	return &HistoryAdapter{source: source, unsupported: unsupported, opts: opts}
}

// Query answers queryPedometerData. Capability is checked before the
// arguments, so a platform without history support always reports
// UNAVAILABLE. The range is passed to the source unchanged, inverted or not.
func (h *HistoryAdapter) Query(ctx context.Context, call channel.MethodCall) (Reading, error) {
	if h.source == nil || !h.source.HistoryAvailable() {
		return Reading{}, Unavailable(h.unsupported)
	}
	if h.opts.Gate != nil {
		if err := h.opts.Gate(); err != nil {
			return Reading{}, AsError(err)
		}
	}

	start, err := call.Int64Argument(ArgStartTime)
	if err != nil {
		return Reading{}, InvalidArguments(err.Error())
	}
	end, err := call.Int64Argument(ArgEndTime)
	if err != nil {
		return Reading{}, InvalidArguments(err.Error())
	}

	sample, err := h.source.QueryHistory(ctx, FromMillis(start), FromMillis(end))
	if err != nil {
		h.opts.logger().Debug("history query failed", "start", start, "end", end, "error", err)
		return Reading{}, AsError(err)
	}
	return sample.Reading(), nil
}
