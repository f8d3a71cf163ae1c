package audio

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// FFplayPlayer feeds raw PCM to an ffplay subprocess over stdin. Reset kills
// and restarts the process so stale buffered audio is dropped immediately.
type FFplayPlayer struct {
	command    string
	sampleRate int
	channels   int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFplayPlayer(command string, sampleRate, channels int) (*FFplayPlayer, error) {
	if command == "" {
		command = "ffplay"
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("playback command not found: %w", err)
	}

	p := &FFplayPlayer{
		command:    command,
		sampleRate: sampleRate,
		channels:   channels,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.startLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func playbackArgs(sampleRate, channels int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
	}
}

func (p *FFplayPlayer) startLocked() error {
	cmd := exec.Command(p.command, playbackArgs(p.sampleRate, p.channels)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create playback stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback process: %w", err)
	}
	p.cmd = cmd
	p.stdin = stdin
	return nil
}

func (p *FFplayPlayer) stopLocked() {
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.cmd = nil
}

// Play writes one PCM frame. It restarts the process if a previous write
// tore it down.
func (p *FFplayPlayer) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		if err := p.startLocked(); err != nil {
			return err
		}
	}

	if _, err := p.stdin.Write(pcm); err != nil {
		p.stopLocked()
		return fmt.Errorf("write playback frame: %w", err)
	}
	return nil
}

// Reset discards any queued audio by restarting the subprocess.
func (p *FFplayPlayer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return p.startLocked()
}

func (p *FFplayPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}
