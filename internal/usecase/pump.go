package usecase

import (
	"errors"
	"io"
	"os"

	"voicewire/internal/ports"
)

// pumpCapture reads fixed-size frames from the microphone and posts them to
// the session loop. It exits when the capture stream ends; a trailing
// short read is discarded so no partial frame ever reaches the wire.
func (s *Session) pumpCapture(capGen uint64, mic ports.AudioSession, frameBytes int) {
	if frameBytes <= 0 {
		frameBytes = 4096
	}

	buf := make([]byte, frameBytes)
	for {
		if _, err := io.ReadFull(mic, buf); err != nil {
			s.post(micClosed{capGen: capGen, err: normalizeReadErr(err)})
			return
		}
		frame := make([]byte, frameBytes)
		copy(frame, buf)
		if !s.post(micFrame{capGen: capGen, payload: frame}) {
			return
		}
	}
}

// pumpTransport forwards every transport event to the session loop. It must
// run until the event channel closes so the transport can finish shutting
// down even when the loop no longer listens.
func (s *Session) pumpTransport(gen uint64, t ports.Transport) {
	for ev := range t.Events() {
		s.post(linkEvent{gen: gen, event: ev})
	}
}

// post delivers one event to the loop, reporting false once the session has
// shut down.
func (s *Session) post(ev loopEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.loopDone:
		return false
	}
}

func normalizeReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
