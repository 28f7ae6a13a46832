package socket

import "fmt"

// EventKind identifies a stream event.
type EventKind int

const (
	EventConnected      EventKind = iota + 1 // peer attached
	EventBytesAvailable                      // Read will return data
	EventError                               // transport failure, Err is set
	EventClosed                              // peer ended the stream
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventBytesAvailable:
		return "bytes_available"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to a Delegate on the connection's notification goroutine.
type Event struct {
	Kind  EventKind
	Count int // bytes received, for EventBytesAvailable
	Err   error
}

// Delegate receives stream events. All calls for one connection happen on
// a single goroutine, in the order the events occurred.
type Delegate interface {
	HandleEvent(ev Event)
}

// DelegateFunc adapts a function to a Delegate.
type DelegateFunc func(ev Event)

func (f DelegateFunc) HandleEvent(ev Event) { f(ev) }
