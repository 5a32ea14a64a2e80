package preroll

import "time"

type EventKind string

const (
	EventCaptured EventKind = "captured"
	EventArmed    EventKind = "armed"
	EventConsumed EventKind = "consumed"
	EventExpired  EventKind = "expired"
	EventCleared  EventKind = "cleared"
)

// Event describes one state change of a Store. CaptureID is empty for an
// empty capture and for clears.
type Event struct {
	Kind      EventKind `json:"kind"`
	CaptureID string    `json:"captureId,omitempty"`
	Samples   int       `json:"samples"`
	At        time.Time `json:"at"`
}

// Sink receives events after the Store has released its lock. Sinks must not
// call back into the Store synchronously.
type Sink interface {
	Handle(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Handle(e Event) { f(e) }

type multiSink []Sink

func (m multiSink) Handle(e Event) {
	for _, s := range m {
		s.Handle(e)
	}
}

// Sinks fans events out to every non-nil sink in order.
func Sinks(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
