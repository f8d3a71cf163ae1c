// Package unmute implements the websocket transport to the voice backend.
package unmute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voicewire/internal/ports"
	"voicewire/internal/protocol"
)

const closeGrace = 2 * time.Second

// Dialer implements ports.Dialer over gorilla/websocket.
type Dialer struct {
	logger     *slog.Logger
	queueDepth int
}

// NewDialer creates a dialer whose transports queue up to queueDepth
// outbound frames.
func NewDialer(logger *slog.Logger, queueDepth int) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Dialer{logger: logger, queueDepth: queueDepth}
}

// Dial opens one websocket to the configured server. It blocks until the
// socket is open or the attempt failed; cancellation comes from ctx.
func (d *Dialer) Dial(ctx context.Context, cfg ports.DialConfig) (ports.Transport, error) {
	wsURL, err := socketURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial voice socket: %w", err)
	}
	d.logger.Debug("voice socket open", slog.String("url", wsURL))

	t := &transport{
		conn:   conn,
		events: make(chan ports.TransportEvent, 64),
		frames: make(chan []byte, d.queueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ping:   cfg.PingInterval,
		logger: d.logger,
	}

	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()
	go func() {
		t.wg.Wait()
		t.events <- ports.LinkClosed{Err: t.closeErr()}
		close(t.events)
		_ = conn.Close()
		close(t.done)
	}()

	return t, nil
}

type transport struct {
	conn *websocket.Conn

	events chan ports.TransportEvent
	frames chan []byte
	stop   chan struct{}
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce  sync.Once
	closed     atomic.Bool
	sendMu     sync.RWMutex
	sendClosed bool

	ping   time.Duration
	logger *slog.Logger
}

// Send encodes one frame and appends it to the write queue. Frames never
// interleave: the write loop is the only writer.
func (t *transport) Send(f protocol.ClientFrame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	t.sendMu.RLock()
	closed := t.sendClosed
	t.sendMu.RUnlock()
	if closed {
		return ports.ErrTransportClosed
	}

	select {
	case t.frames <- data:
		return nil
	case <-t.stop:
		return ports.ErrTransportClosed
	default:
		return ports.ErrSendQueueFull
	}
}

// Events delivers decoded inbound frames and the terminal LinkClosed. The
// channel closes once both socket loops have exited.
func (t *transport) Events() <-chan ports.TransportEvent {
	return t.events
}

// Close tears the socket down. It is idempotent and does not wait for the
// loops; queued-but-unsent frames are discarded.
func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.sendMu.Lock()
		t.sendClosed = true
		t.sendMu.Unlock()
		close(t.stop)

		deadline := time.Now().Add(closeGrace)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.conn.Close()
	})
	return nil
}

func (t *transport) closeErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *transport) setErr(err error) {
	if err == nil || t.closed.Load() {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *transport) emit(ev ports.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.stop:
	}
}

func (t *transport) writeLoop() {
	defer t.wg.Done()

	var pingC <-chan time.Time
	if t.ping > 0 {
		ticker := time.NewTicker(t.ping)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-t.stop:
			return
		case data := <-t.frames:
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.setErr(fmt.Errorf("write frame: %w", err))
				_ = t.Close()
				return
			}
		case <-pingC:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGrace)); err != nil {
				t.setErr(fmt.Errorf("write ping: %w", err))
				_ = t.Close()
				return
			}
		}
	}
}

func (t *transport) readLoop() {
	defer t.wg.Done()

	if t.ping > 0 {
		deadline := t.ping * 5 / 2
		_ = t.conn.SetReadDeadline(time.Now().Add(deadline))
		t.conn.SetPongHandler(func(string) error {
			return t.conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			t.setErr(fmt.Errorf("read frame: %w", err))
			_ = t.Close()
			return
		}

		event, err := protocol.Decode(payload)
		if err != nil {
			t.emit(ports.FrameRejected{Err: err})
			continue
		}
		t.emit(ports.FrameReceived{Event: event})
	}
}

// socketURL rewrites http(s) endpoints to their ws(s) form and validates the
// result.
func socketURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	if base == "" {
		return "", errors.New("server url is empty")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}
	return u.String(), nil
}
