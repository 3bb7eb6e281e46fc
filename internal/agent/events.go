package agent

import (
	"sync/atomic"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// eventBuffer is the capacity of a run's event channel. Slow consumers
// apply backpressure to the loop rather than losing events.
const eventBuffer = 256

// emitter generates sequenced events for one run and delivers them on the
// run's channel. Sequence numbers are monotonic across the whole run.
type emitter struct {
	runID    string
	sequence uint64
	ch       chan models.AgentEvent
}

func newEmitter(runID string) *emitter {
	return &emitter{
		runID: runID,
		ch:    make(chan models.AgentEvent, eventBuffer),
	}
}

func (e *emitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *emitter) base(t models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Type:     t,
		Sequence: e.nextSeq(),
		RunID:    e.runID,
		Time:     time.Now(),
	}
}

func (e *emitter) emit(ev models.AgentEvent) {
	e.ch <- ev
}

func (e *emitter) runStarted() {
	e.emit(e.base(models.AgentEventRunStarted))
}

func (e *emitter) token(text string) {
	ev := e.base(models.AgentEventAssistantToken)
	ev.Token = text
	e.emit(ev)
}

func (e *emitter) toolCall(call models.ToolCall) {
	ev := e.base(models.AgentEventToolCall)
	ev.ToolCall = &call
	e.emit(ev)
}

func (e *emitter) toolResult(result models.ToolResult) {
	ev := e.base(models.AgentEventToolResult)
	ev.ToolResult = &result
	e.emit(ev)
}

func (e *emitter) retrying(err error, attempt int) {
	ev := e.base(models.AgentEventRunRetrying)
	ev.Err = err.Error()
	ev.Attempt = attempt
	e.emit(ev)
}

func (e *emitter) runFinished() {
	e.emit(e.base(models.AgentEventRunFinished))
}

func (e *emitter) runError(err error) {
	ev := e.base(models.AgentEventRunError)
	ev.Err = err.Error()
	e.emit(ev)
}

func (e *emitter) runAborted() {
	e.emit(e.base(models.AgentEventRunAborted))
}

// close signals end of stream. No events may be emitted afterwards.
func (e *emitter) close() {
	close(e.ch)
}
