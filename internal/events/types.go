// Package events defines the event types published while rconsole talks to
// servers, and the bus that carries them to history and telemetry.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventSessionOpened EventType = "session_opened"
	EventSessionClosed EventType = "session_closed"
	EventAuthFailed    EventType = "auth_failed"

	// Commands
	EventCommandExecuted EventType = "command_executed"

	// System
	EventShutdown EventType = "shutdown"
)

// Trigger names what started a command.
type Trigger string

const (
	TriggerCLI       Trigger = "cli"
	TriggerConsole   Trigger = "console"
	TriggerAPI       Trigger = "api"
	TriggerScheduler Trigger = "scheduler"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload interface{}
}

// SessionPayload accompanies EventSessionOpened and EventSessionClosed.
type SessionPayload struct {
	Server  string `json:"server"`
	Address string `json:"address"`
}

// AuthFailedPayload accompanies EventAuthFailed. Reason is the error text;
// the password is never included.
type AuthFailedPayload struct {
	Server  string `json:"server"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// CommandExecutedPayload accompanies EventCommandExecuted, for successful
// and failed commands alike. Error is empty on success.
type CommandExecutedPayload struct {
	Server     string        `json:"server"`
	Command    string        `json:"command"`
	Trigger    Trigger       `json:"trigger"`
	Segmented  bool          `json:"segmented"`
	ResponseID int32         `json:"response_id"`
	Response   string        `json:"response"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Failed reports whether the command returned an error.
func (p CommandExecutedPayload) Failed() bool {
	return p.Error != ""
}
