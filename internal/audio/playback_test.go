package audio

import (
	"strings"
	"testing"
)

func TestPlaybackArgs(t *testing.T) {
	t.Parallel()

	got := playbackArgs(24000, 1)
	want := []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", "24000",
		"-ac", "1",
		"-i", "pipe:0",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected arg count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestNewFFplayPlayerMissingCommand(t *testing.T) {
	t.Parallel()

	_, err := NewFFplayPlayer("definitely-not-a-real-player-binary", 24000, 1)
	if err == nil || !strings.Contains(err.Error(), "playback command not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPCMBytesLittleEndian(t *testing.T) {
	t.Parallel()

	got := pcmBytes([]int16{1, -1, 256})
	want := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01}
	if len(got) != len(want) {
		t.Fatalf("unexpected length: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}
