// Package voicewire is a real-time voice streaming client for unmute-style
// speech backends. A Client owns one session: a persistent websocket to the
// server, the microphone capture pipeline, inbound transcript reconstruction,
// and sequenced audio playback. Hosts observe the session through snapshot
// reads and an optional push-style EventSink.
package voicewire

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"voicewire/internal/bootstrap"
	"voicewire/internal/config"
	"voicewire/internal/domain"
	"voicewire/internal/ports"
	"voicewire/internal/telemetry"
	"voicewire/internal/usecase"
)

// Session types re-exported so hosts never import internal packages.
type (
	Status       = domain.ConnectionStatus
	StatusReason = domain.StatusReason
	Flags        = domain.SessionFlags
	Role         = domain.Role
	Message      = domain.VoiceMessage
	LogEntry     = domain.DebugLogEntry
	ErrorCode    = domain.ErrorCode
	Snapshot     = domain.Snapshot
)

// Connection status values.
const (
	StatusDisconnected = domain.StatusDisconnected
	StatusConnecting   = domain.StatusConnecting
	StatusConnected    = domain.StatusConnected
	StatusError        = domain.StatusError
)

// Conversation roles.
const (
	RoleUser      = domain.RoleUser
	RoleAssistant = domain.RoleAssistant
)

// Error taxonomy codes carried by rejected operations and sink errors.
const (
	ErrorCodeConfiguration = domain.ErrorCodeConfiguration
	ErrorCodeTransport     = domain.ErrorCodeTransport
	ErrorCodeProtocol      = domain.ErrorCodeProtocol
	ErrorCodePrecondition  = domain.ErrorCodePrecondition
)

// EventSink receives push-style session events. All methods are called from
// the session loop and must not block.
type EventSink = ports.EventSink

// Error is a rejected operation carrying its taxonomy code; match it with
// errors.As.
type Error = usecase.Error

// ErrClosed is returned by every operation after Close.
var ErrClosed = usecase.ErrSessionClosed

type options struct {
	configPath string
	sink       ports.EventSink
	logger     *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithConfigFile loads the YAML file at path before applying environment
// overrides.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithEventSink registers a push-style observer for session events.
func WithEventSink(sink EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithLogger sets the process logger used by the session and its adapters.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client is the public surface of one voice session.
type Client struct {
	session  *usecase.Session
	cfg      config.Config
	registry *prometheus.Registry
}

// New resolves configuration and assembles a client. The session starts
// Disconnected; nothing is dialed until Connect.
func New(opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	services, err := bootstrap.Build(o.configPath, o.sink, o.logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		session:  services.Session,
		cfg:      services.Config,
		registry: services.Registry,
	}, nil
}

// Connect starts a connection attempt and returns once the session is
// Connecting. Completion is observed through status events. Calling it while
// Connecting or Connected is a no-op.
func (c *Client) Connect() error {
	return c.session.Connect()
}

// Disconnect aborts an in-flight connect, stops recording and closes the
// link. Calling it while already Disconnected is a no-op.
func (c *Client) Disconnect() error {
	return c.session.Disconnect()
}

// StartRecording arms the microphone. It fails unless Connected.
func (c *Client) StartRecording() error {
	return c.session.StartRecording()
}

// StopRecording disarms the microphone. No audio frame reaches the wire
// after it returns.
func (c *Client) StopRecording() error {
	return c.session.StopRecording()
}

// SendMessage writes one typed message to the live link and records it as a
// user turn.
func (c *Client) SendMessage(text string) error {
	return c.session.SendMessage(text)
}

// SetVoice selects the server voice, live when connected.
func (c *Client) SetVoice(id string) error {
	return c.session.SetVoice(id)
}

// SetLanguage selects the conversation language, live when connected.
func (c *Client) SetLanguage(code string) error {
	return c.session.SetLanguage(code)
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return c.session.Status()
}

// Flags returns the current recording flags.
func (c *Client) Flags() Flags {
	return c.session.Flags()
}

// State returns the full observable session state.
func (c *Client) State() Snapshot {
	return c.session.Snapshot()
}

// Messages returns a copy of the sealed conversation history, oldest first.
func (c *Client) Messages() []Message {
	return c.session.Messages()
}

// DebugLogs returns a copy of the debug telemetry ring, oldest first.
func (c *Client) DebugLogs() []LogEntry {
	return c.session.DebugLogs()
}

// ClearMessages empties the conversation history. It never touches the
// connection.
func (c *Client) ClearMessages() {
	c.session.ClearMessages()
}

// ClearDebugLogs empties the debug telemetry ring. It never touches the
// connection.
func (c *Client) ClearDebugLogs() {
	c.session.ClearDebugLogs()
}

// Close disconnects and releases the session. Message and debug history stay
// readable afterwards.
func (c *Client) Close() error {
	return c.session.Close()
}

// Registry exposes the client's metric collectors for scraping.
func (c *Client) Registry() *prometheus.Registry {
	return c.registry
}

// DiagnosticsAddr returns the configured diagnostics listen address, empty
// when the endpoint is disabled.
func (c *Client) DiagnosticsAddr() string {
	return c.cfg.Diagnostics.Listen
}

// RuntimeInfo returns non-sensitive settings for display surfaces.
func (c *Client) RuntimeInfo() map[string]string {
	snap := c.session.Snapshot()
	return map[string]string{
		"serverURL":  telemetry.Redact(c.cfg.Server.URL),
		"voice":      snap.Voice,
		"language":   snap.Language,
		"sampleRate": strconv.Itoa(c.cfg.Audio.SampleRate),
		"channels":   strconv.Itoa(c.cfg.Audio.Channels),
		"playback":   strconv.FormatBool(c.cfg.Audio.Playback),
	}
}

// StatusMessage maps a transition reason onto display text for UI surfaces.
func StatusMessage(reason StatusReason) string {
	switch reason {
	case domain.ReasonConnectRequested:
		return "Connecting..."
	case domain.ReasonHandshakeComplete:
		return "Connected"
	case domain.ReasonDisconnectRequested:
		return "Disconnected"
	case domain.ReasonDialFailed:
		return "Connection failed"
	case domain.ReasonLinkLost:
		return "Connection lost"
	case domain.ReasonServerClosed:
		return "Server closed the connection"
	default:
		return ""
	}
}

// ErrorMessage maps an error code onto display text, falling back to detail.
func ErrorMessage(code ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeConfiguration:
		return "Configuration error"
	case domain.ErrorCodeTransport:
		return "Connection trouble"
	case domain.ErrorCodeProtocol:
		return "Server sent something unexpected"
	case domain.ErrorCodePrecondition:
		return "Not allowed right now"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
