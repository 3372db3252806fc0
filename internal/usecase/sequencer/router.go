package sequencer

import (
	"log/slog"
	"time"
)

// EventSink is the sequencer's single delivery entry point. It returns
// true when the event was matched to the currently running test.
type EventSink interface {
	HandleNotification(ev DecodedEvent) bool
}

// Router consumes the inbound notification stream: it decodes each raw
// payload, timestamps it, and hands it to the sink. Correlation with the
// in-flight test is the sink's job; the router never touches outcome state.
type Router struct {
	sink   EventSink
	logger *slog.Logger
}

// NewRouter creates a Router delivering into sink.
func NewRouter(sink EventSink, logger *slog.Logger) *Router {
	return &Router{sink: sink, logger: logger}
}

// OnNotification is the NotificationHandler wired into the connection
// manager. Safe for concurrent use; it is called from the radio stack's
// delivery goroutine.
func (r *Router) OnNotification(raw []byte) {
	ev := DecodeEvent(raw, time.Now())
	if ev.Err != nil {
		r.logger.Warn("discarding undecodable notification", "bytes", len(raw), "error", ev.Err)
	}

	matched := r.sink.HandleNotification(ev)
	if !matched && ev.Err == nil {
		r.logger.Debug("notification arrived with no test awaiting response", "bytes", len(raw))
	}
}
