package agent

import "time"

// EventType labels a point in the task lifecycle.
type EventType string

const (
	EventTaskStarted  EventType = "task_started"
	EventPlanCreated  EventType = "plan_created"
	EventStepStarted  EventType = "step_started"
	EventStepFinished EventType = "step_finished"
	EventStepRefined  EventType = "step_refined"
	EventPlanAdapted  EventType = "plan_adapted"
	EventPageChanged  EventType = "page_changed"
	EventTaskFinished EventType = "task_finished"
)

// Event is one observable moment of a running task. Finished steps carry
// the page screenshot when capture is enabled; page changes carry the new
// page's title and screenshot alongside its URL in Detail.
type Event struct {
	Type       EventType
	Time       time.Time
	TaskID     string
	StepIndex  int
	Step       *ActionStep
	Detail     string
	Title      string
	Screenshot []byte
	Err        string
}

// Emitter receives lifecycle events. Implementations must not block; the
// engine calls Emit inline on the execution path.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// ChannelEmitter forwards events to a channel, dropping when the receiver
// falls behind. Execution never waits on an observer.
type ChannelEmitter struct {
	ch chan Event
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream.
func (e *ChannelEmitter) Events() <-chan Event { return e.ch }

func (e *ChannelEmitter) Emit(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}

// Close releases the stream; Emit must not be called afterwards.
func (e *ChannelEmitter) Close() { close(e.ch) }

var (
	_ Emitter = NopEmitter{}
	_ Emitter = (*ChannelEmitter)(nil)
)
