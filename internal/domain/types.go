package domain

import "time"

// ConnectionStatus models the link lifecycle. Exactly one value holds at any
// instant and the session loop is the only mutator.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// StatusReason provides a structured reason for status transitions.
type StatusReason string

const (
	ReasonConnectRequested    StatusReason = "connect_requested"
	ReasonHandshakeComplete   StatusReason = "handshake_complete"
	ReasonDisconnectRequested StatusReason = "disconnect_requested"
	ReasonDialFailed          StatusReason = "dial_failed"
	ReasonLinkLost            StatusReason = "link_lost"
	ReasonServerClosed        StatusReason = "server_closed"
)

// SessionFlags mirrors the recording sub-state. Recording is true only while
// the capture device is armed and the status is StatusConnected.
type SessionFlags struct {
	Recording  bool `json:"recording"`
	Listening  bool `json:"listening"`
	PushToTalk bool `json:"pushToTalk"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role string onto a known Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	}
	return "", false
}

// VoiceMessage is one sealed conversation turn. Messages are immutable once
// appended; IDs are unique and order by arrival.
type VoiceMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LogLevel grades debug telemetry entries.
type LogLevel string

const (
	LevelInfo    LogLevel = "info"
	LevelWarn    LogLevel = "warn"
	LevelError   LogLevel = "error"
	LevelSuccess LogLevel = "success"
)

// DebugLogEntry is one structured telemetry record.
type DebugLogEntry struct {
	Level     LogLevel    `json:"level"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Data      DiagPayload `json:"data,omitempty"`
}

// DiagPayload is the closed set of diagnostic payload shapes attached to
// debug entries. TextDiag is the fallback for unstructured detail.
type DiagPayload interface {
	diagPayload()
}

// StatusDiag records a connection status transition.
type StatusDiag struct {
	From   ConnectionStatus `json:"from"`
	To     ConnectionStatus `json:"to"`
	Reason StatusReason     `json:"reason"`
}

// FrameDiag summarizes one wire frame.
type FrameDiag struct {
	Direction string `json:"direction"`
	Kind      string `json:"kind"`
	Bytes     int    `json:"bytes,omitempty"`
	Sequence  int64  `json:"sequence,omitempty"`
}

// FaultDiag carries an error code with detail.
type FaultDiag struct {
	Code   ErrorCode `json:"code"`
	Detail string    `json:"detail"`
}

// CaptureDiag summarizes a capture run.
type CaptureDiag struct {
	Frames int64 `json:"frames"`
	Bytes  int64 `json:"bytes"`
}

// TextDiag is an opaque detail string.
type TextDiag string

func (StatusDiag) diagPayload()  {}
func (FrameDiag) diagPayload()   {}
func (FaultDiag) diagPayload()   {}
func (CaptureDiag) diagPayload() {}
func (TextDiag) diagPayload()    {}

// ErrorCode identifies the error taxonomy surfaced through telemetry.
type ErrorCode string

const (
	ErrorCodeConfiguration ErrorCode = "configuration"
	ErrorCodeTransport     ErrorCode = "transport"
	ErrorCodeProtocol      ErrorCode = "protocol"
	ErrorCodePrecondition  ErrorCode = "precondition"
)

// Snapshot summarizes the observable session state.
type Snapshot struct {
	Status   ConnectionStatus `json:"status"`
	Flags    SessionFlags     `json:"flags"`
	Voice    string           `json:"voice,omitempty"`
	Language string           `json:"language,omitempty"`
}
