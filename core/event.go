package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent log event kinds.
const (
	EventStart    = "start"
	EventComplete = "complete"
	EventError    = "error"
	EventWarn     = "warn"
)

// AgentLog is one structured diagnostic entry. Entries are never consulted for
// control flow.
type AgentLog struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Agent     string         `json:"agent"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
}

// NewAgentLog creates an entry stamped with a fresh ID and UTC timestamp.
func NewAgentLog(agent, event, message string, payload map[string]any) AgentLog {
	if payload == nil {
		payload = map[string]any{}
	}
	return AgentLog{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		Agent:     agent,
		Event:     event,
		Message:   message,
		Payload:   payload,
	}
}

// Line renders the entry as its dbg_logs mirror.
func (l AgentLog) Line() string {
	return fmt.Sprintf("[%s] %s: %s", l.Agent, l.Event, l.Message)
}

// Patch returns a patch appending the entry and its dbg line.
func (l AgentLog) Patch() Patch {
	return Patch{AgentLogs: []AgentLog{l}, DbgLogs: []string{l.Line()}}
}

// LogStart records that an agent started.
func LogStart(agent string, payload map[string]any) Patch {
	return NewAgentLog(agent, EventStart, "start", payload).Patch()
}

// LogComplete records that an agent finished.
func LogComplete(agent string, payload map[string]any) Patch {
	return NewAgentLog(agent, EventComplete, "complete", payload).Patch()
}

// LogError records a failure captured by an agent.
func LogError(agent, message string, payload map[string]any) Patch {
	return NewAgentLog(agent, EventError, message, payload).Patch()
}

// LogWarn records an unexpected but tolerated condition.
func LogWarn(agent, message string, payload map[string]any) Patch {
	return NewAgentLog(agent, EventWarn, message, payload).Patch()
}

// NewID generates a new unique identifier for runs, sessions and log entries.
func NewID() string { return uuid.NewString() }
