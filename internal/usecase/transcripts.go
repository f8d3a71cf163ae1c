package usecase

import "strings"

// transcriptAssembler buffers in-flight partial transcripts keyed by the
// server's message id. Partials only ever replace the buffered text; a final
// seals the turn and discards the buffer. Owned by the session loop, so no
// locking.
type transcriptAssembler struct {
	partials map[string]string
}

func newTranscriptAssembler() *transcriptAssembler {
	return &transcriptAssembler{partials: make(map[string]string)}
}

func (a *transcriptAssembler) Partial(messageID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.partials[messageID] = text
}

// Seal returns the definitive text for one turn and drops its buffer. The
// final's own text wins; the last partial is the fallback when the final
// arrives empty. An empty result means the turn carried no usable text.
func (a *transcriptAssembler) Seal(messageID, text string) string {
	buffered := a.partials[messageID]
	delete(a.partials, messageID)

	text = strings.TrimSpace(text)
	if text != "" {
		return text
	}
	return buffered
}

// InFlight reports how many turns currently have buffered partial text.
func (a *transcriptAssembler) InFlight() int {
	return len(a.partials)
}

// Reset drops all buffered partials, used when the link goes away.
func (a *transcriptAssembler) Reset() {
	a.partials = make(map[string]string)
}
