package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"voicewire/internal/domain"
	"voicewire/internal/ports"
	"voicewire/internal/protocol"
)

func testConfig() Config {
	return Config{
		Dial: ports.DialConfig{ServerURL: "wss://voice.example.com/ws"},
		Capture: ports.CaptureConfig{
			SampleRate:    24000,
			Channels:      1,
			BitDepth:      16,
			FrameDuration: 20 * time.Millisecond,
		},
		Voice:        "aria",
		Language:     "en",
		JitterWindow: 4,
	}
}

func newTestSession(t *testing.T, cfg Config, deps Deps) *Session {
	t.Helper()
	s := New(cfg, deps)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectSession(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitFor(t, "connected status", func() bool {
		return s.Status() == domain.StatusConnected
	})
}

func TestSessionConnectReachesConnected(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []ports.Transport{tr}}
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{Dialer: dialer, Events: sink})
	connectSession(t, s)

	frames := tr.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected one handshake frame, got %d", len(frames))
	}
	hs, ok := frames[0].(protocol.Handshake)
	if !ok {
		t.Fatalf("expected handshake, got %T", frames[0])
	}
	if hs.Voice != "aria" || hs.Language != "en" || hs.SampleRate != 24000 {
		t.Fatalf("unexpected handshake: %+v", hs)
	}

	statuses := sink.snapshotStatuses()
	if len(statuses) != 2 ||
		statuses[0].status != domain.StatusConnecting ||
		statuses[1].status != domain.StatusConnected {
		t.Fatalf("unexpected status sequence: %+v", statuses)
	}
	if statuses[1].reason != domain.ReasonHandshakeComplete {
		t.Fatalf("unexpected connected reason: %s", statuses[1].reason)
	}
}

func TestSessionConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	dialer := &fakeDialer{transports: []ports.Transport{tr}}

	s := newTestSession(t, testConfig(), Deps{Dialer: dialer})
	connectSession(t, s)

	if err := s.Connect(); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	if got := dialer.dialCalls(); got != 1 {
		t.Fatalf("expected one dial, got %d", got)
	}
}

func TestSessionConnectRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Dial.ServerURL = "ftp://voice.example.com"
	dialer := &fakeDialer{}
	sink := &fakeSink{}

	s := newTestSession(t, cfg, Deps{Dialer: dialer, Events: sink})

	err := s.Connect()
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	var fault *Error
	if !errors.As(err, &fault) || fault.Code != domain.ErrorCodeConfiguration {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status() != domain.StatusDisconnected {
		t.Fatalf("status mutated on rejected connect: %s", s.Status())
	}
	if dialer.dialCalls() != 0 {
		t.Fatalf("dial attempted despite invalid url")
	}
}

func TestSessionConnectDialFailure(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{err: errors.New("connection refused")}
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{Dialer: dialer, Events: sink})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect returned error for async failure: %v", err)
	}

	waitFor(t, "disconnected status", func() bool {
		return s.Status() == domain.StatusDisconnected
	})

	statuses := sink.snapshotStatuses()
	if len(statuses) != 3 ||
		statuses[0].status != domain.StatusConnecting ||
		statuses[1].status != domain.StatusError ||
		statuses[2].status != domain.StatusDisconnected {
		t.Fatalf("unexpected status sequence: %+v", statuses)
	}

	faults := sink.snapshotFaults()
	if len(faults) != 1 || faults[0].code != domain.ErrorCodeTransport {
		t.Fatalf("expected one transport fault, got %+v", faults)
	}
}

func TestSessionDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := newTestSession(t, testConfig(), Deps{Dialer: &fakeDialer{}, Events: sink})

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect on idle session failed: %v", err)
	}
	if got := len(sink.snapshotStatuses()); got != 0 {
		t.Fatalf("expected no status events, got %d", got)
	}
}

func TestSessionDisconnectCancelsInFlightConnect(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	dialer := &fakeDialer{block: release}
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{Dialer: dialer, Events: sink})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if s.Status() != domain.StatusConnecting {
		t.Fatalf("expected connecting, got %s", s.Status())
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	close(release)

	waitFor(t, "dial abort", func() bool { return dialer.dialCalls() == 1 })
	time.Sleep(20 * time.Millisecond)

	if s.Status() != domain.StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", s.Status())
	}
	for _, st := range sink.snapshotStatuses() {
		if st.status == domain.StatusError {
			t.Fatalf("canceled connect surfaced an error status")
		}
	}
}

func TestSessionStartRecordingRequiresConnected(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := newTestSession(t, testConfig(), Deps{Dialer: &fakeDialer{}, Events: sink})

	err := s.StartRecording()
	var fault *Error
	if !errors.As(err, &fault) || fault.Code != domain.ErrorCodePrecondition {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Flags().Recording {
		t.Fatalf("recording flag set despite rejection")
	}

	logs := s.DebugLogs()
	if len(logs) != 1 || logs[0].Level != domain.LevelError {
		t.Fatalf("expected exactly one error log entry, got %+v", logs)
	}
}

func TestSessionRecordingRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	frameBytes := cfg.Capture.FrameBytes()

	tr := newFakeTransport()
	mic := newFakeMic(bytes.Repeat([]byte{0x5a}, frameBytes*10))
	capture := &fakeCapture{sessions: []ports.AudioSession{mic}}

	s := newTestSession(t, cfg, Deps{
		Dialer:  &fakeDialer{transports: []ports.Transport{tr}},
		Capture: capture,
	})
	connectSession(t, s)

	if err := s.StartRecording(); err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	if flags := s.Flags(); !flags.Recording || !flags.Listening {
		t.Fatalf("unexpected flags after start: %+v", flags)
	}

	waitFor(t, "five audio frames", func() bool {
		return len(tr.sentAudio()) >= 5
	})

	if err := s.StopRecording(); err != nil {
		t.Fatalf("stop recording failed: %v", err)
	}
	if flags := s.Flags(); flags.Recording || flags.Listening {
		t.Fatalf("unexpected flags after stop: %+v", flags)
	}
	if mic.stops() == 0 {
		t.Fatalf("capture device was not stopped")
	}

	sent := tr.sentAudio()
	time.Sleep(30 * time.Millisecond)
	if again := tr.sentAudio(); len(again) != len(sent) {
		t.Fatalf("frames leaked after stop: %d -> %d", len(sent), len(again))
	}

	for i, chunk := range sent {
		if chunk.Sequence != int64(i+1) {
			t.Fatalf("frame %d has sequence %d", i, chunk.Sequence)
		}
		if len(chunk.Payload) != frameBytes {
			t.Fatalf("frame %d has %d bytes, want %d", i, len(chunk.Payload), frameBytes)
		}
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if got := s.Status(); got != domain.StatusDisconnected {
		t.Fatalf("status after disconnect = %s", got)
	}
}

func TestSessionStopRecordingWhileIdleWarns(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, testConfig(), Deps{Dialer: &fakeDialer{}})

	if err := s.StopRecording(); err != nil {
		t.Fatalf("idle stop returned error: %v", err)
	}

	logs := s.DebugLogs()
	if len(logs) != 1 || logs[0].Level != domain.LevelWarn {
		t.Fatalf("expected one warning entry, got %+v", logs)
	}
}

func TestSessionCaptureStartFailure(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	capture := &fakeCapture{err: errors.New("device busy")}
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer:  &fakeDialer{transports: []ports.Transport{tr}},
		Capture: capture,
		Events:  sink,
	})
	connectSession(t, s)

	err := s.StartRecording()
	var fault *Error
	if !errors.As(err, &fault) || fault.Code != domain.ErrorCodeConfiguration {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Flags().Recording {
		t.Fatalf("recording flag set despite capture failure")
	}
	if s.Status() != domain.StatusConnected {
		t.Fatalf("capture failure tore down the connection")
	}
}

func TestSessionTranscriptReconstruction(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
		Events: sink,
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.PartialTranscript{MessageID: "m1", Text: "he"}})
	tr.emit(ports.FrameReceived{Event: protocol.PartialTranscript{MessageID: "m1", Text: "hello"}})
	tr.emit(ports.FrameReceived{Event: protocol.FinalTranscript{MessageID: "m1", Text: "hello world", Role: domain.RoleAssistant}})

	waitFor(t, "sealed message", func() bool { return len(s.Messages()) == 1 })

	msgs := s.Messages()
	if msgs[0].Role != domain.RoleAssistant || msgs[0].Text != "hello world" {
		t.Fatalf("unexpected sealed message: %+v", msgs[0])
	}
	if partials := sink.snapshotPartials(); len(partials) != 2 || partials[1].text != "hello" {
		t.Fatalf("unexpected partial events: %+v", partials)
	}
}

func TestSessionFinalWithoutPartialsSeals(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.FinalTranscript{MessageID: "m9", Text: "direct", Role: domain.RoleUser}})

	waitFor(t, "sealed message", func() bool { return len(s.Messages()) == 1 })
	if msg := s.Messages()[0]; msg.Role != domain.RoleUser || msg.Text != "direct" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSessionEmptyFinalTranscriptDropped(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.FinalTranscript{MessageID: "m2", Text: "  ", Role: domain.RoleUser}})

	waitFor(t, "warn entry", func() bool {
		for _, entry := range s.DebugLogs() {
			if strings.Contains(entry.Message, "empty final transcript") {
				return true
			}
		}
		return false
	})
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("empty final produced %d messages", got)
	}
}

func TestSessionInboundAudioReordered(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	playback := &fakePlayback{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer:   &fakeDialer{transports: []ports.Transport{tr}},
		Playback: playback,
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 1, Payload: []byte{1}}})
	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 3, Payload: []byte{3}}})
	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 2, Payload: []byte{2}}})

	waitFor(t, "three played frames", func() bool { return len(playback.played()) == 3 })

	for i, frame := range playback.played() {
		if frame[0] != byte(i+1) {
			t.Fatalf("frame %d played out of order: %v", i, playback.played())
		}
	}
}

func TestSessionLateAudioFrameDropped(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	playback := &fakePlayback{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer:   &fakeDialer{transports: []ports.Transport{tr}},
		Playback: playback,
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 5, Payload: []byte{5}}})
	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 6, Payload: []byte{6}}})
	tr.emit(ports.FrameReceived{Event: protocol.ServerAudio{Sequence: 4, Payload: []byte{4}}})

	waitFor(t, "late frame warning", func() bool {
		for _, entry := range s.DebugLogs() {
			if entry.Level == domain.LevelWarn && strings.Contains(entry.Message, "behind playhead") {
				return true
			}
		}
		return false
	})
	if got := len(playback.played()); got != 2 {
		t.Fatalf("expected 2 played frames, got %d", got)
	}
}

func TestSessionSendMessageAppendsUserTurn(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
		Events: sink,
	})
	connectSession(t, s)

	if err := s.SendMessage("what can you cook?"); err != nil {
		t.Fatalf("send message failed: %v", err)
	}

	var texts []protocol.TextMessage
	for _, f := range tr.sentFrames() {
		if tm, ok := f.(protocol.TextMessage); ok {
			texts = append(texts, tm)
		}
	}
	if len(texts) != 1 || texts[0].Text != "what can you cook?" {
		t.Fatalf("unexpected text frames: %+v", texts)
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("unexpected message log: %+v", msgs)
	}
	if sealed := sink.snapshotSealed(); len(sealed) != 1 {
		t.Fatalf("expected sealed event for user turn, got %d", len(sealed))
	}
}

func TestSessionSendMessageRequiresConnected(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, testConfig(), Deps{Dialer: &fakeDialer{}})

	err := s.SendMessage("hello")
	var fault *Error
	if !errors.As(err, &fault) || fault.Code != domain.ErrorCodePrecondition {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("rejected send appended a message")
	}
}

func TestSessionSendMessageTransportFailureIsWarn(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	tr.setSendErr(ports.ErrSendQueueFull)
	if err := s.SendMessage("dropped"); err != nil {
		t.Fatalf("expected fire-and-forget nil, got %v", err)
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("dropped send appended a message")
	}

	var warned bool
	for _, entry := range s.DebugLogs() {
		if entry.Level == domain.LevelWarn && strings.Contains(entry.Message, "not sent") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected warn entry for dropped send")
	}
}

func TestSessionSetVoiceLiveAndDeferred(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})

	if err := s.SetVoice("nova"); err != nil {
		t.Fatalf("deferred set voice failed: %v", err)
	}
	if got := s.Snapshot().Voice; got != "nova" {
		t.Fatalf("voice not stored: %q", got)
	}

	connectSession(t, s)

	frames := tr.sentFrames()
	hs, ok := frames[0].(protocol.Handshake)
	if !ok || hs.Voice != "nova" {
		t.Fatalf("expected handshake with deferred voice, got %+v", frames[0])
	}

	if err := s.SetVoice("echo"); err != nil {
		t.Fatalf("live set voice failed: %v", err)
	}
	frames = tr.sentFrames()
	last, ok := frames[len(frames)-1].(protocol.Handshake)
	if !ok || last.Voice != "echo" {
		t.Fatalf("expected live voice update, got %+v", frames[len(frames)-1])
	}
}

func TestSessionSetLanguageLiveUpdate(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	if err := s.SetLanguage("fr"); err != nil {
		t.Fatalf("set language failed: %v", err)
	}
	frames := tr.sentFrames()
	last, ok := frames[len(frames)-1].(protocol.Handshake)
	if !ok || last.Language != "fr" {
		t.Fatalf("expected language update, got %+v", frames[len(frames)-1])
	}
}

func TestSessionLinkLossSurfacesErrorThenDisconnected(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	tr := newFakeTransport()
	mic := newFakeMic(bytes.Repeat([]byte{1}, cfg.Capture.FrameBytes()*100))
	sink := &fakeSink{}

	s := newTestSession(t, cfg, Deps{
		Dialer:  &fakeDialer{transports: []ports.Transport{tr}},
		Capture: &fakeCapture{sessions: []ports.AudioSession{mic}},
		Events:  sink,
	})
	connectSession(t, s)
	if err := s.StartRecording(); err != nil {
		t.Fatalf("start recording failed: %v", err)
	}

	tr.fail(errors.New("socket reset"))

	waitFor(t, "disconnected after loss", func() bool {
		return s.Status() == domain.StatusDisconnected
	})

	if flags := s.Flags(); flags.Recording || flags.Listening {
		t.Fatalf("flags survived link loss: %+v", flags)
	}

	statuses := sink.snapshotStatuses()
	last := statuses[len(statuses)-1]
	prev := statuses[len(statuses)-2]
	if prev.status != domain.StatusError || last.status != domain.StatusDisconnected {
		t.Fatalf("unexpected terminal transitions: %+v", statuses)
	}
	if last.reason != domain.ReasonLinkLost {
		t.Fatalf("unexpected reason: %s", last.reason)
	}

	faults := sink.snapshotFaults()
	if len(faults) == 0 || faults[len(faults)-1].code != domain.ErrorCodeTransport {
		t.Fatalf("expected transport fault, got %+v", faults)
	}
}

func TestSessionServerCloseIsClean(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
		Events: sink,
	})
	connectSession(t, s)

	tr.fail(nil)

	waitFor(t, "disconnected", func() bool {
		return s.Status() == domain.StatusDisconnected
	})

	for _, st := range sink.snapshotStatuses() {
		if st.status == domain.StatusError {
			t.Fatalf("clean close surfaced an error status")
		}
	}
	if faults := sink.snapshotFaults(); len(faults) != 0 {
		t.Fatalf("clean close produced faults: %+v", faults)
	}
}

func TestSessionGenerationIsolation(t *testing.T) {
	t.Parallel()

	first := newFakeTransport()
	first.manualClose = true
	second := newFakeTransport()
	sink := &fakeSink{}

	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{first, second}},
		Events: sink,
	})

	connectSession(t, s)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	connectSession(t, s)

	if first.closeCount() == 0 {
		t.Fatalf("superseded transport was never closed")
	}

	first.emit(ports.FrameReceived{Event: protocol.FinalTranscript{MessageID: "stale", Text: "ghost", Role: domain.RoleAssistant}})
	first.emit(ports.LinkClosed{Err: errors.New("stale teardown")})
	time.Sleep(30 * time.Millisecond)

	if s.Status() != domain.StatusConnected {
		t.Fatalf("stale events mutated status: %s", s.Status())
	}
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("stale transcript reached the log")
	}
	for _, fault := range sink.snapshotFaults() {
		if strings.Contains(fault.detail, "stale teardown") {
			t.Fatalf("stale link loss surfaced: %+v", fault)
		}
	}

	first.fail(nil)
}

func TestSessionMalformedFrameDropped(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	tr.emit(ports.FrameRejected{Err: errors.New("unknown frame type \"nope\"")})

	waitFor(t, "malformed frame warning", func() bool {
		for _, entry := range s.DebugLogs() {
			if entry.Level == domain.LevelWarn && strings.Contains(entry.Message, "malformed") {
				return true
			}
		}
		return false
	})
	if s.Status() != domain.StatusConnected {
		t.Fatalf("malformed frame killed the session: %s", s.Status())
	}
}

func TestSessionClearsAreIndependentOfConnection(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	tr.emit(ports.FrameReceived{Event: protocol.FinalTranscript{MessageID: "m1", Text: "keep", Role: domain.RoleAssistant}})
	waitFor(t, "sealed message", func() bool { return len(s.Messages()) == 1 })

	s.ClearMessages()
	if got := len(s.Messages()); got != 0 {
		t.Fatalf("clear left %d messages", got)
	}
	if s.Status() != domain.StatusConnected {
		t.Fatalf("clear disconnected the session")
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if len(s.DebugLogs()) == 0 {
		t.Fatalf("disconnect cleared debug history")
	}
}

func TestSessionCloseStopsOperations(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := New(testConfig(), Deps{
		Dialer: &fakeDialer{transports: []ports.Transport{tr}},
	})
	connectSession(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := s.Connect(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if len(s.DebugLogs()) == 0 {
		t.Fatalf("history unreadable after close")
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []ports.Transport
	err        error
	calls      int
	block      chan struct{}
}

func (f *fakeDialer) Dial(ctx context.Context, _ ports.DialConfig) (ports.Transport, error) {
	f.mu.Lock()
	f.calls++
	idx := f.calls - 1
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if idx >= len(f.transports) {
		return nil, errors.New("no transport configured")
	}
	return f.transports[idx], nil
}

func (f *fakeDialer) dialCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTransport struct {
	manualClose bool

	mu      sync.Mutex
	sent    []protocol.ClientFrame
	sendErr error
	closes  int

	events   chan ports.TransportEvent
	failOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ports.TransportEvent, 32)}
}

func (f *fakeTransport) Send(fr protocol.ClientFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeTransport) Events() <-chan ports.TransportEvent {
	return f.events
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	manual := f.manualClose
	f.mu.Unlock()
	if !manual {
		f.fail(nil)
	}
	return nil
}

// fail emits the terminal LinkClosed and closes the event stream, matching
// the real transport contract.
func (f *fakeTransport) fail(err error) {
	f.failOnce.Do(func() {
		f.events <- ports.LinkClosed{Err: err}
		close(f.events)
	})
}

func (f *fakeTransport) emit(ev ports.TransportEvent) {
	f.events <- ev
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) sentFrames() []protocol.ClientFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.ClientFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) sentAudio() []protocol.AudioChunk {
	var out []protocol.AudioChunk
	for _, fr := range f.sentFrames() {
		if chunk, ok := fr.(protocol.AudioChunk); ok {
			out = append(out, chunk)
		}
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeCapture) Start(_ context.Context, _ ports.CaptureConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no capture session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeMic struct {
	mu        sync.Mutex
	data      []byte
	stopCalls int
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newFakeMic(data []byte) *fakeMic {
	return &fakeMic{data: data, stopped: make(chan struct{})}
}

// Read hands out buffered bytes and then blocks until Stop, so the stream
// behaves like a live device rather than ending in EOF mid-test.
func (f *fakeMic) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.data) > 0 {
		n := copy(p, f.data)
		f.data = f.data[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	<-f.stopped
	return 0, io.EOF
}

func (f *fakeMic) Close() error { return f.Stop() }

func (f *fakeMic) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeMic) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakePlayback struct {
	mu     sync.Mutex
	frames [][]byte
	resets int
	closes int
}

func (f *fakePlayback) Play(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakePlayback) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakePlayback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakePlayback) played() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

type statusEvent struct {
	status domain.ConnectionStatus
	reason domain.StatusReason
}

type partialEvent struct {
	id   string
	text string
}

type faultEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []statusEvent
	partials []partialEvent
	sealed   []domain.VoiceMessage
	faults   []faultEvent
}

func (f *fakeSink) StatusChanged(status domain.ConnectionStatus, reason domain.StatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusEvent{status: status, reason: reason})
}

func (f *fakeSink) PartialTranscript(messageID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, partialEvent{id: messageID, text: text})
}

func (f *fakeSink) MessageSealed(msg domain.VoiceMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sealed = append(f.sealed, msg)
}

func (f *fakeSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, faultEvent{code: code, detail: detail})
}

func (f *fakeSink) snapshotStatuses() []statusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]statusEvent, len(f.statuses))
	copy(out, f.statuses)
	return out
}

func (f *fakeSink) snapshotPartials() []partialEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]partialEvent, len(f.partials))
	copy(out, f.partials)
	return out
}

func (f *fakeSink) snapshotSealed() []domain.VoiceMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.VoiceMessage, len(f.sealed))
	copy(out, f.sealed)
	return out
}

func (f *fakeSink) snapshotFaults() []faultEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]faultEvent, len(f.faults))
	copy(out, f.faults)
	return out
}
