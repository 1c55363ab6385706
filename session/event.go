package session

// EventName identifies the type of an event in an execution stream.
type EventName string

const (
	EventTaskStarted   EventName = "task_started"
	EventStdoutLine    EventName = "stdout_line"
	EventStderrLine    EventName = "stderr_line"
	EventTaskProgress  EventName = "task_progress"
	EventTaskResult    EventName = "task_result"
	EventTaskCompleted EventName = "task_completed"
	EventError         EventName = "error"
)

// Event is one unit of an execution's ordered event stream.
// Data is either a JSON document or plain text, depending on the event name.
type Event struct {
	Name EventName `json:"event"`
	Data string    `json:"data"`
}

// Request describes one execution of the app server.
// A Request is immutable once accepted by a Runner.
type Request struct {
	Prompt    string `json:"prompt"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
