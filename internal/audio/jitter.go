package audio

// DefaultJitterWindow bounds how many out-of-order frames are held back
// before playback skips ahead.
const DefaultJitterWindow = 16

// Frame is one sequenced playback frame from the server.
type Frame struct {
	Sequence int64
	Payload  []byte
	Encoding string
}

// JitterBuffer releases frames in sequence order. Frames arriving behind the
// playhead are dropped; when too many future frames pile up the playhead
// jumps to the earliest one held.
type JitterBuffer struct {
	window  int
	next    int64
	started bool
	pending map[int64]Frame
}

func NewJitterBuffer(window int) *JitterBuffer {
	if window <= 0 {
		window = DefaultJitterWindow
	}
	return &JitterBuffer{
		window:  window,
		pending: make(map[int64]Frame),
	}
}

// Push accepts one frame and returns every frame now ready for playback, in
// order. late reports a frame behind the playhead that was dropped; skipped
// is how many sequence slots were abandoned to recover from a pile-up.
func (b *JitterBuffer) Push(f Frame) (ready []Frame, late bool, skipped int) {
	if !b.started {
		b.started = true
		b.next = f.Sequence
	}

	if f.Sequence < b.next {
		return nil, true, 0
	}

	if f.Sequence == b.next {
		ready = append(ready, f)
		b.next++
		return append(ready, b.drain()...), false, 0
	}

	b.pending[f.Sequence] = f
	if len(b.pending) <= b.window {
		return nil, false, 0
	}

	lowest := f.Sequence
	for seq := range b.pending {
		if seq < lowest {
			lowest = seq
		}
	}
	skipped = int(lowest - b.next)
	b.next = lowest
	return b.drain(), false, skipped
}

func (b *JitterBuffer) drain() []Frame {
	var out []Frame
	for {
		f, ok := b.pending[b.next]
		if !ok {
			return out
		}
		delete(b.pending, b.next)
		out = append(out, f)
		b.next++
	}
}

// Pending reports how many future frames are currently held back.
func (b *JitterBuffer) Pending() int {
	return len(b.pending)
}

// Reset clears all state so the next pushed frame defines the playhead.
func (b *JitterBuffer) Reset() {
	b.started = false
	b.next = 0
	b.pending = make(map[int64]Frame)
}
