package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"voicewire/internal/domain"
	"voicewire/internal/protocol"
)

var (
	// ErrTransportClosed is returned by Transport.Send after the socket
	// closed. Callers downgrade it to a warning.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSendQueueFull is returned by Transport.Send when the write queue
	// cannot accept another frame.
	ErrSendQueueFull = errors.New("send queue full")
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate    int
	Channels      int
	BitDepth      int
	FrameDuration time.Duration
	InputFormat   string
	InputDevice   string
}

// FrameBytes returns the size of one capture frame in bytes.
func (c CaptureConfig) FrameBytes() int {
	samples := int(c.FrameDuration * time.Duration(c.SampleRate) / time.Second)
	return samples * c.Channels * c.BitDepth / 8
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (AudioSession, error)
}

// AudioDecoder turns an encoded inbound audio packet into raw PCM.
type AudioDecoder interface {
	Decode(packet []byte) ([]byte, error)
}

// PlaybackSink plays PCM frames in hand-off order.
type PlaybackSink interface {
	// Play queues one frame of raw PCM.
	Play(pcm []byte) error
	// Reset discards anything buffered so no stale audio survives a
	// disconnect or stop.
	Reset() error
	Close() error
}

// DialConfig describes one connection attempt.
type DialConfig struct {
	ServerURL    string
	DialTimeout  time.Duration
	PingInterval time.Duration
}

// TransportEvent is link or protocol activity delivered by a Transport.
// Every producer feeds the same stream so the session loop has a single
// dispatch point.
type TransportEvent interface {
	transportEvent()
}

// FrameReceived carries one decoded inbound frame.
type FrameReceived struct {
	Event protocol.ServerEvent
}

// FrameRejected reports an undecodable inbound frame that was dropped.
type FrameRejected struct {
	Err error
}

// LinkClosed reports the terminal close of the socket, emitted exactly once.
// Err is nil when the peer closed cleanly.
type LinkClosed struct {
	Err error
}

func (FrameReceived) transportEvent() {}
func (FrameRejected) transportEvent() {}
func (LinkClosed) transportEvent()    {}

// Transport is one open duplex socket to the voice backend. Outbound frames
// are serialized FIFO through a single write queue.
type Transport interface {
	// Send enqueues one outbound frame. It never blocks: after the socket
	// is closed it returns ErrTransportClosed, and when the write queue is
	// saturated it returns ErrSendQueueFull.
	Send(f protocol.ClientFrame) error
	// Events must be drained until it closes; the final event is always
	// LinkClosed.
	Events() <-chan TransportEvent
	// Close is idempotent and releases both socket loops.
	Close() error
}

// Dialer opens transports. Dial blocks until the socket is open or failed.
type Dialer interface {
	Dial(ctx context.Context, cfg DialConfig) (Transport, error)
}

// EventSink emits session state and events to the embedding host.
type EventSink interface {
	StatusChanged(status domain.ConnectionStatus, reason domain.StatusReason)
	PartialTranscript(messageID string, text string)
	MessageSealed(msg domain.VoiceMessage)
	SessionError(code domain.ErrorCode, detail string)
}
