package usecase

import "voicewire/internal/ports"

// loopEvent is anything delivered onto the session loop by a concurrent
// producer. Every variant carries the generation it belongs to so the loop
// can discard events from superseded links or stopped captures.
type loopEvent interface {
	loopEvent()
}

// dialDone reports the outcome of one connection attempt.
type dialDone struct {
	gen       uint64
	transport ports.Transport
	err       error
}

// linkEvent forwards one transport event from the link pump.
type linkEvent struct {
	gen   uint64
	event ports.TransportEvent
}

// micFrame carries one fixed-duration capture frame.
type micFrame struct {
	capGen  uint64
	payload []byte
}

// micClosed reports that the capture stream ended. err is nil when the
// device stopped cleanly.
type micClosed struct {
	capGen uint64
	err    error
}

func (dialDone) loopEvent()  {}
func (linkEvent) loopEvent() {}
func (micFrame) loopEvent()  {}
func (micClosed) loopEvent() {}

// command is one synchronous call executed on the session loop.
type command struct {
	run   func() error
	reply chan error
}
