// Package models holds the core domain objects of the control plane.
// Shared between the fleet, browser, and api layers.
package models

import "time"

// InstanceStatus is the lifecycle state of a remote compute instance.
// Transitions move forward only (provisioning -> running -> stopping ->
// terminated); any non-terminal state may drop to StatusError, which is
// terminal like StatusTerminated.
type InstanceStatus string

const (
	StatusProvisioning InstanceStatus = "provisioning"
	StatusRunning      InstanceStatus = "running"
	StatusStopping     InstanceStatus = "stopping"
	StatusTerminated   InstanceStatus = "terminated"
	StatusError        InstanceStatus = "error"
)

// Terminal reports whether no further lifecycle mutation is allowed.
func (s InstanceStatus) Terminal() bool {
	return s == StatusTerminated || s == StatusError
}

// HealthStatus is the last observed health of an instance.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Instance is a provisioned remote compute resource tracked through the
// lifecycle state machine. The fleet manager is its only writer.
type Instance struct {
	ID             string         `json:"id"`
	ProviderID     string         `json:"provider_id"`
	Status         InstanceStatus `json:"status"`
	Region         string         `json:"region"`
	InstanceClass  string         `json:"instance_class"`
	PublicAddr     string         `json:"public_addr,omitempty"`
	PrivateAddr    string         `json:"private_addr,omitempty"`
	Health         HealthStatus   `json:"health"`
	Owner          string         `json:"owner"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	LaunchedAt     time.Time      `json:"launched_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// SessionStatus is the state of a browser-control session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
	SessionError  SessionStatus = "error"
)

// Session is a logical browser-control session bound to one owner and one
// running instance. CommandIDs preserves the insertion (causal) order of the
// commands attributed to the session.
type Session struct {
	ID              string        `json:"id"`
	Owner           string        `json:"owner"`
	InstanceID      string        `json:"instance_id"`
	Status          SessionStatus `json:"status"`
	CurrentLocation string        `json:"current_location,omitempty"`
	CommandIDs      []string      `json:"command_ids"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         time.Time     `json:"ended_at,omitzero"`
}

// CommandType enumerates the automation actions a remote executor accepts.
type CommandType string

const (
	CmdNavigate   CommandType = "navigate"
	CmdClick      CommandType = "click"
	CmdTypeText   CommandType = "type"
	CmdScreenshot CommandType = "screenshot"
	CmdExecute    CommandType = "execute"
	CmdScroll     CommandType = "scroll"
)

// CommandStatus is the outcome state of a command. Success and error are
// terminal and write-once.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandSuccess CommandStatus = "success"
	CommandError   CommandStatus = "error"
)

// Command is a single automation action dispatched to an instance and its
// asynchronous outcome. Large result payloads are spilled to the result
// store and referenced by ResultRef.
type Command struct {
	ID           string         `json:"id"`
	Type         CommandType    `json:"type"`
	Params       map[string]any `json:"params,omitempty"`
	Status       CommandStatus  `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	ResultRef    string         `json:"result_ref,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Owner        string         `json:"owner"`
	InstanceID   string         `json:"instance_id"`
	SessionID    string         `json:"session_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at,omitzero"`
}
