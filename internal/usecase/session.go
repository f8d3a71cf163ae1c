// Package usecase owns the voice session state machine: the single loop that
// mediates every status and recording transition and is the only caller of
// the transport and capture ports.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicewire/internal/audio"
	"voicewire/internal/domain"
	"voicewire/internal/metrics"
	"voicewire/internal/ports"
	"voicewire/internal/protocol"
	"voicewire/internal/telemetry"
)

// ErrSessionClosed is returned by every operation after Close.
var ErrSessionClosed = errors.New("session closed")

// Error is a rejected operation, classified by the domain error taxonomy.
type Error struct {
	Code   domain.ErrorCode
	Detail string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Detail
}

func newError(code domain.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Config carries the settings read at connect time. Changing fields after a
// connect never alters the live link; a reconnect applies them.
type Config struct {
	Dial         ports.DialConfig
	Capture      ports.CaptureConfig
	Voice        string
	Language     string
	PushToTalk   bool
	PTTDebounce  time.Duration
	JitterWindow int
}

// Deps bundles the collaborators injected into a Session. Playback and
// Decoder are optional; inbound audio is counted and discarded without them.
type Deps struct {
	Dialer   ports.Dialer
	Capture  ports.AudioCapture
	Playback ports.PlaybackSink
	Decoder  ports.AudioDecoder
	Events   ports.EventSink
	Ring     *telemetry.Ring
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Session is one voice conversation owner. All mutations run on a single
// loop goroutine; concurrent producers deliver events onto that loop and
// public methods are executed on it synchronously.
type Session struct {
	cfg Config

	dialer   ports.Dialer
	capture  ports.AudioCapture
	playback ports.PlaybackSink
	decoder  ports.AudioDecoder
	sink     ports.EventSink
	ring     *telemetry.Ring
	metrics  *metrics.Metrics
	log      *slog.Logger

	messages  *MessageLog
	assembler *transcriptAssembler
	jitter    *audio.JitterBuffer

	commands chan command
	events   chan loopEvent
	loopDone chan struct{}

	snapMu sync.RWMutex
	snap   domain.Snapshot

	// Owned by the run loop.
	closing    bool
	gen        uint64
	capGen     uint64
	transport  ports.Transport
	cancelDial context.CancelFunc
	mic        ports.AudioSession
	outSeq     int64
	capFrames  int64
	capBytes   int64
	lastPress  time.Time
}

// New creates a session and starts its loop. The session is Disconnected
// until Connect is called.
func New(cfg Config, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = nopSink{}
	}
	if deps.Ring == nil {
		deps.Ring = telemetry.NewRing(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if cfg.JitterWindow <= 0 {
		cfg.JitterWindow = audio.DefaultJitterWindow
	}

	s := &Session{
		cfg:       cfg,
		dialer:    deps.Dialer,
		capture:   deps.Capture,
		playback:  deps.Playback,
		decoder:   deps.Decoder,
		sink:      deps.Events,
		ring:      deps.Ring,
		metrics:   deps.Metrics,
		log:       deps.Logger.With("session", uuid.NewString()[:8]),
		messages:  NewMessageLog(),
		assembler: newTranscriptAssembler(),
		jitter:    audio.NewJitterBuffer(cfg.JitterWindow),
		commands:  make(chan command),
		events:    make(chan loopEvent),
		loopDone:  make(chan struct{}),
		snap: domain.Snapshot{
			Status:   domain.StatusDisconnected,
			Flags:    domain.SessionFlags{PushToTalk: cfg.PushToTalk},
			Voice:    cfg.Voice,
			Language: cfg.Language,
		},
	}
	s.metrics.SetConnectionStatus(domain.StatusDisconnected)
	go s.run()
	return s
}

// Connect starts a connection attempt. It returns once the session is
// Connecting; completion is observed through status events. Calling it while
// Connecting or Connected is a no-op.
func (s *Session) Connect() error {
	return s.do(s.doConnect)
}

// Disconnect is the universal cancel: it aborts an in-flight connect, stops
// capture, discards queued outbound frames and closes the link. Calling it
// while already Disconnected is a no-op.
func (s *Session) Disconnect() error {
	return s.do(func() error {
		s.doDisconnect()
		return nil
	})
}

// StartRecording arms the microphone. It fails with a precondition error
// unless the session is Connected.
func (s *Session) StartRecording() error {
	return s.do(s.doStartRecording)
}

// StopRecording disarms the microphone. No frame reaches the wire after it
// returns. Calling it while not recording logs a warning and returns nil.
func (s *Session) StopRecording() error {
	return s.do(s.doStopRecording)
}

// SendMessage writes one typed message to the live link and records it as a
// user turn. It requires Connected but not Recording.
func (s *Session) SendMessage(text string) error {
	return s.do(func() error { return s.doSendMessage(text) })
}

// SetVoice updates the selected voice. When connected the change is pushed
// to the server immediately; otherwise it applies on the next connect.
func (s *Session) SetVoice(id string) error {
	return s.do(func() error { return s.doSetVoice(id) })
}

// SetLanguage updates the selected language, with the same live-update
// semantics as SetVoice.
func (s *Session) SetLanguage(code string) error {
	return s.do(func() error { return s.doSetLanguage(code) })
}

// Close disconnects and stops the session loop. Further operations return
// ErrSessionClosed; message and debug history stay readable.
func (s *Session) Close() error {
	err := s.do(func() error {
		s.doDisconnect()
		s.closing = true
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	if s.playback != nil {
		_ = s.playback.Close()
	}
	return err
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() domain.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Status returns the current connection status.
func (s *Session) Status() domain.ConnectionStatus {
	return s.Snapshot().Status
}

// Flags returns the current recording flags.
func (s *Session) Flags() domain.SessionFlags {
	return s.Snapshot().Flags
}

// Messages returns a copy of the sealed conversation history.
func (s *Session) Messages() []domain.VoiceMessage {
	return s.messages.Snapshot()
}

// DebugLogs returns a copy of the telemetry ring, oldest first.
func (s *Session) DebugLogs() []domain.DebugLogEntry {
	return s.ring.Snapshot()
}

// ClearMessages empties the conversation history without touching the
// connection.
func (s *Session) ClearMessages() {
	s.messages.Clear()
}

// ClearDebugLogs empties the telemetry ring without touching the connection.
func (s *Session) ClearDebugLogs() {
	s.ring.Clear()
}

func (s *Session) do(fn func() error) error {
	cmd := command{run: fn, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
		return <-cmd.reply
	case <-s.loopDone:
		return ErrSessionClosed
	}
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- cmd.run()
			if s.closing {
				return
			}
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev loopEvent) {
	switch e := ev.(type) {
	case dialDone:
		s.handleDialDone(e)
	case linkEvent:
		s.handleLinkEvent(e)
	case micFrame:
		s.handleMicFrame(e)
	case micClosed:
		s.handleMicClosed(e)
	}
}

func (s *Session) doConnect() error {
	switch s.snap.Status {
	case domain.StatusConnecting, domain.StatusConnected:
		s.ring.Info(fmt.Sprintf("connect ignored, already %s", s.snap.Status), nil)
		return nil
	}

	if s.dialer == nil {
		fault := newError(domain.ErrorCodeConfiguration, "no dialer configured")
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}
	if err := validateServerURL(s.cfg.Dial.ServerURL); err != nil {
		fault := newError(domain.ErrorCodeConfiguration, "invalid server url: %v", err)
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}

	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelDial = cancel
	s.setStatus(domain.StatusConnecting, domain.ReasonConnectRequested)
	go s.dial(ctx, s.gen, s.cfg.Dial)
	return nil
}

// dial runs off-loop. It always pumps a successfully opened transport so the
// transport can finish closing even when its result is discarded.
func (s *Session) dial(ctx context.Context, gen uint64, cfg ports.DialConfig) {
	t, err := s.dialer.Dial(ctx, cfg)
	if err != nil {
		s.post(dialDone{gen: gen, err: err})
		return
	}
	if !s.post(dialDone{gen: gen, transport: t}) {
		_ = t.Close()
	}
	s.pumpTransport(gen, t)
}

func (s *Session) handleDialDone(e dialDone) {
	if e.gen != s.gen {
		if e.transport != nil {
			_ = e.transport.Close()
			s.ring.Warn("discarding connection from superseded attempt", nil)
		}
		return
	}

	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}

	if e.err != nil {
		s.failConnect(e.err)
		return
	}

	s.transport = e.transport
	s.outSeq = 0
	if err := s.transport.Send(s.handshakeFrame()); err != nil {
		s.failConnect(fmt.Errorf("send handshake: %w", err))
		return
	}
	s.metrics.FramesSent.Inc()
	s.setStatus(domain.StatusConnected, domain.ReasonHandshakeComplete)
}

func (s *Session) doDisconnect() {
	if s.snap.Status == domain.StatusDisconnected {
		return
	}
	s.teardownLink()
	s.clearRecordingFlags()
	s.setStatus(domain.StatusDisconnected, domain.ReasonDisconnectRequested)
}

func (s *Session) doStartRecording() error {
	if s.snap.Status != domain.StatusConnected {
		fault := newError(domain.ErrorCodePrecondition, "cannot start recording while %s", s.snap.Status)
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}
	if s.snap.Flags.Recording {
		s.ring.Info("start recording ignored, already recording", nil)
		return nil
	}
	if s.cfg.PushToTalk && s.cfg.PTTDebounce > 0 && time.Since(s.lastPress) < s.cfg.PTTDebounce {
		s.ring.Warn("push-to-talk press debounced", nil)
		return nil
	}
	if s.capture == nil {
		fault := newError(domain.ErrorCodeConfiguration, "no capture device configured")
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}

	mic, err := s.capture.Start(context.Background(), s.cfg.Capture)
	if err != nil {
		fault := newError(domain.ErrorCodeConfiguration, "audio capture failed to start: %v", err)
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}

	s.lastPress = time.Now()
	s.capGen++
	s.mic = mic
	s.capFrames = 0
	s.capBytes = 0
	go s.pumpCapture(s.capGen, mic, s.cfg.Capture.FrameBytes())

	s.setFlags(true, true)
	s.ring.Success("recording started", nil)
	return nil
}

func (s *Session) doStopRecording() error {
	if !s.snap.Flags.Recording {
		s.ring.Warn("stop recording ignored, not recording", nil)
		return nil
	}

	s.capGen++
	if s.mic != nil {
		_ = s.mic.Stop()
		s.mic = nil
	}
	s.setFlags(false, false)
	s.ring.Info("recording stopped", domain.CaptureDiag{Frames: s.capFrames, Bytes: s.capBytes})
	return nil
}

func (s *Session) doSendMessage(text string) error {
	if s.snap.Status != domain.StatusConnected {
		fault := newError(domain.ErrorCodePrecondition, "cannot send message while %s", s.snap.Status)
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		s.sink.SessionError(fault.Code, fault.Detail)
		return fault
	}
	if strings.TrimSpace(text) == "" {
		fault := newError(domain.ErrorCodePrecondition, "cannot send an empty message")
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		return fault
	}

	if err := s.transport.Send(protocol.TextMessage{Text: text}); err != nil {
		s.ring.Warn("text message not sent: "+err.Error(), domain.TextDiag(text))
		s.metrics.RecordFrameDropped(dropReason(err))
		return nil
	}
	s.metrics.FramesSent.Inc()

	msg := s.messages.Append(domain.RoleUser, text)
	s.sink.MessageSealed(msg)
	s.ring.Info("text message sent", domain.TextDiag(text))
	return nil
}

func (s *Session) doSetVoice(id string) error {
	if strings.TrimSpace(id) == "" {
		fault := newError(domain.ErrorCodePrecondition, "voice id is empty")
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		return fault
	}

	s.snapMu.Lock()
	s.snap.Voice = id
	s.snapMu.Unlock()

	if s.snap.Status == domain.StatusConnected && s.transport != nil {
		if err := s.transport.Send(s.handshakeFrame()); err != nil {
			s.ring.Warn("voice update not sent: "+err.Error(), nil)
			return nil
		}
		s.metrics.FramesSent.Inc()
		s.ring.Info("voice changed to "+id, nil)
		return nil
	}

	s.ring.Info("voice set to "+id+", applied on next connect", nil)
	return nil
}

func (s *Session) doSetLanguage(code string) error {
	if strings.TrimSpace(code) == "" {
		fault := newError(domain.ErrorCodePrecondition, "language code is empty")
		s.ring.Error(fault.Detail, domain.FaultDiag{Code: fault.Code, Detail: fault.Detail})
		return fault
	}

	s.snapMu.Lock()
	s.snap.Language = code
	s.snapMu.Unlock()

	if s.snap.Status == domain.StatusConnected && s.transport != nil {
		if err := s.transport.Send(s.handshakeFrame()); err != nil {
			s.ring.Warn("language update not sent: "+err.Error(), nil)
			return nil
		}
		s.metrics.FramesSent.Inc()
		s.ring.Info("language changed to "+code, nil)
		return nil
	}

	s.ring.Info("language set to "+code+", applied on next connect", nil)
	return nil
}

func (s *Session) handleLinkEvent(e linkEvent) {
	if e.gen != s.gen {
		return
	}

	switch ev := e.event.(type) {
	case ports.FrameReceived:
		s.handleFrame(ev.Event)
	case ports.FrameRejected:
		s.ring.Warn("dropping malformed inbound frame: "+ev.Err.Error(),
			domain.FaultDiag{Code: domain.ErrorCodeProtocol, Detail: ev.Err.Error()})
		s.metrics.RecordFrameDropped(metrics.DropMalformed)
	case ports.LinkClosed:
		s.handleLinkClosed(ev.Err)
	}
}

func (s *Session) handleFrame(ev protocol.ServerEvent) {
	s.metrics.RecordFrameReceived()

	switch e := ev.(type) {
	case protocol.PartialTranscript:
		s.assembler.Partial(e.MessageID, e.Text)
		s.sink.PartialTranscript(e.MessageID, e.Text)
	case protocol.FinalTranscript:
		text := s.assembler.Seal(e.MessageID, e.Text)
		if text == "" {
			s.ring.Warn("dropping empty final transcript", nil)
			return
		}
		msg := s.messages.Append(e.Role, text)
		s.sink.MessageSealed(msg)
		s.ring.Info(string(e.Role)+" message sealed", domain.TextDiag(text))
		s.metrics.RecordTranscriptSealed(e.Role)
	case protocol.ServerAudio:
		s.handleServerAudio(e)
	case protocol.ServerFault:
		detail := e.Detail
		if e.Code != "" {
			detail = e.Code + ": " + e.Detail
		}
		s.ring.Error("server fault: "+detail,
			domain.FaultDiag{Code: domain.ErrorCodeProtocol, Detail: detail})
		s.sink.SessionError(domain.ErrorCodeProtocol, detail)
	}
}

func (s *Session) handleServerAudio(e protocol.ServerAudio) {
	if s.playback == nil {
		return
	}

	ready, late, skipped := s.jitter.Push(audio.Frame{
		Sequence: e.Sequence,
		Payload:  e.Payload,
		Encoding: e.Encoding,
	})
	if late {
		s.ring.Warn(fmt.Sprintf("dropping audio frame %d, behind playhead", e.Sequence),
			domain.FrameDiag{Direction: "in", Kind: protocol.TypeAudio, Bytes: len(e.Payload), Sequence: e.Sequence})
		s.metrics.RecordFrameDropped(metrics.DropLate)
		return
	}
	if skipped > 0 {
		s.ring.Warn(fmt.Sprintf("jitter window exceeded, skipped %d missing frames", skipped), nil)
		s.metrics.RecordFramesDropped(metrics.DropSkipped, skipped)
	}

	for _, f := range ready {
		pcm := f.Payload
		if f.Encoding == "opus" {
			if s.decoder == nil {
				s.ring.Warn("dropping opus frame, no decoder configured", nil)
				s.metrics.RecordFrameDropped(metrics.DropUnsupported)
				continue
			}
			decoded, err := s.decoder.Decode(f.Payload)
			if err != nil {
				s.ring.Warn("dropping undecodable audio frame: "+err.Error(),
					domain.FrameDiag{Direction: "in", Kind: protocol.TypeAudio, Bytes: len(f.Payload), Sequence: f.Sequence})
				s.metrics.RecordFrameDropped(metrics.DropMalformed)
				continue
			}
			pcm = decoded
		}
		if err := s.playback.Play(pcm); err != nil {
			s.ring.Warn("playback write failed: "+err.Error(), nil)
			return
		}
	}
}

func (s *Session) handleLinkClosed(err error) {
	connecting := s.snap.Status == domain.StatusConnecting
	s.teardownLink()
	s.clearRecordingFlags()

	if err == nil {
		s.ring.Info("server closed the connection", nil)
		s.setStatus(domain.StatusDisconnected, domain.ReasonServerClosed)
		return
	}

	detail := err.Error()
	reason := domain.ReasonLinkLost
	if connecting {
		reason = domain.ReasonDialFailed
	}
	s.sink.SessionError(domain.ErrorCodeTransport, detail)
	s.metrics.RecordTransportError()
	s.ring.Error("connection lost: "+detail,
		domain.FaultDiag{Code: domain.ErrorCodeTransport, Detail: detail})
	s.setStatus(domain.StatusError, reason)
	s.setStatus(domain.StatusDisconnected, reason)
}

func (s *Session) handleMicFrame(e micFrame) {
	if e.capGen != s.capGen || !s.snap.Flags.Recording || s.transport == nil {
		return
	}

	s.outSeq++
	frame := protocol.AudioChunk{Sequence: s.outSeq, Payload: e.payload}
	if err := s.transport.Send(frame); err != nil {
		s.ring.Warn("audio frame not sent: "+err.Error(),
			domain.FrameDiag{Direction: "out", Kind: protocol.TypeAudio, Bytes: len(e.payload), Sequence: s.outSeq})
		s.metrics.RecordFrameDropped(dropReason(err))
		return
	}

	s.capFrames++
	s.capBytes += int64(len(e.payload))
	s.metrics.RecordFrameSent(len(e.payload))
}

func (s *Session) handleMicClosed(e micClosed) {
	if e.capGen != s.capGen {
		return
	}

	s.capGen++
	s.mic = nil
	s.setFlags(false, false)

	if e.err != nil {
		detail := "audio capture stopped unexpectedly: " + e.err.Error()
		s.ring.Error(detail, domain.FaultDiag{Code: domain.ErrorCodeConfiguration, Detail: detail})
		s.sink.SessionError(domain.ErrorCodeConfiguration, detail)
		return
	}
	s.ring.Warn("audio capture ended on its own", nil)
}

func (s *Session) failConnect(err error) {
	detail := err.Error()
	s.teardownLink()
	s.sink.SessionError(domain.ErrorCodeTransport, detail)
	s.metrics.RecordTransportError()
	s.ring.Error("connect failed: "+detail,
		domain.FaultDiag{Code: domain.ErrorCodeTransport, Detail: detail})
	s.setStatus(domain.StatusError, domain.ReasonDialFailed)
	s.setStatus(domain.StatusDisconnected, domain.ReasonDialFailed)
}

// teardownLink releases the live link and capture, bumping both generations
// so in-flight events from them are discarded, and clears any buffered
// playback and transcript state.
func (s *Session) teardownLink() {
	s.gen++
	s.capGen++

	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
	}
	if s.mic != nil {
		_ = s.mic.Stop()
		s.mic = nil
	}
	if s.playback != nil {
		_ = s.playback.Reset()
	}
	s.jitter.Reset()
	s.assembler.Reset()
	s.outSeq = 0
}

func (s *Session) handshakeFrame() protocol.Handshake {
	return protocol.Handshake{
		Voice:      s.snap.Voice,
		Language:   s.snap.Language,
		SampleRate: s.cfg.Capture.SampleRate,
		Channels:   s.cfg.Capture.Channels,
		BitDepth:   s.cfg.Capture.BitDepth,
	}
}

func (s *Session) setStatus(status domain.ConnectionStatus, reason domain.StatusReason) {
	from := s.snap.Status
	if from == status {
		return
	}

	s.snapMu.Lock()
	s.snap.Status = status
	s.snapMu.Unlock()

	level := domain.LevelInfo
	switch status {
	case domain.StatusConnected:
		level = domain.LevelSuccess
	case domain.StatusError:
		level = domain.LevelError
	}
	s.ring.Append(level, fmt.Sprintf("status changed to %s", status),
		domain.StatusDiag{From: from, To: status, Reason: reason})
	s.log.Info("status changed", "from", from, "to", status, "reason", reason)

	s.sink.StatusChanged(status, reason)
	s.metrics.SetConnectionStatus(status)
}

func (s *Session) setFlags(recording, listening bool) {
	s.snapMu.Lock()
	s.snap.Flags.Recording = recording
	s.snap.Flags.Listening = listening
	s.snapMu.Unlock()
	s.metrics.SetRecording(recording)
}

func (s *Session) clearRecordingFlags() {
	if !s.snap.Flags.Recording && !s.snap.Flags.Listening {
		return
	}
	s.setFlags(false, false)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ports.ErrSendQueueFull):
		return metrics.DropQueueFull
	case errors.Is(err, ports.ErrTransportClosed):
		return metrics.DropClosed
	default:
		return metrics.DropMalformed
	}
}

func validateServerURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("server url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server url has no host")
	}
	return nil
}

type nopSink struct{}

func (nopSink) StatusChanged(domain.ConnectionStatus, domain.StatusReason) {}
func (nopSink) PartialTranscript(string, string)                           {}
func (nopSink) MessageSealed(domain.VoiceMessage)                          {}
func (nopSink) SessionError(domain.ErrorCode, string)                      {}

var _ ports.EventSink = nopSink{}
