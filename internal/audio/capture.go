// Package audio provides the microphone and speaker adapters plus the
// sequence reordering buffer for inbound playback frames.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"voicewire/internal/ports"
)

const (
	startupCheck = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFmpegCapture streams microphone PCM audio using an ffmpeg subprocess.
type FFmpegCapture struct {
	command string
}

func NewFFmpegCapture(command string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command}
}

// Start launches ffmpeg and verifies it survives its startup window. The
// returned session streams raw little-endian PCM from stdout.
func (c *FFmpegCapture) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	format, device := inputDefaults(runtime.GOOS, cfg.InputFormat, cfg.InputDevice)

	sampleFormat, err := sampleFormat(cfg.BitDepth)
	if err != nil {
		return nil, err
	}

	args := captureArgs(format, device, cfg.Channels, cfg.SampleRate, sampleFormat)

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("capture process exited before startup: %w: %s", err, trimmed(stderr.String()))
		}
		return nil, errors.New("capture process exited before startup")
	case <-time.After(startupCheck):
	}

	return &captureSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func captureArgs(format, device string, channels, sampleRate int, sampleFormat string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", sampleFormat,
		"-",
	}
}

func inputDefaults(goos, format, device string) (string, string) {
	if format == "" {
		switch goos {
		case "darwin":
			format = "avfoundation"
		default:
			format = "pulse"
		}
	}
	if device == "" {
		switch format {
		case "avfoundation":
			device = ":0"
		default:
			device = "default"
		}
	}
	return format, device
}

func sampleFormat(bitDepth int) (string, error) {
	switch bitDepth {
	case 0, 16:
		return "s16le", nil
	case 24:
		return "s24le", nil
	default:
		return "", fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

type captureSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *captureSession) Close() error {
	return s.Stop()
}

// Stop interrupts the process and waits briefly before killing it. It is
// idempotent; a clean exit is not an error.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
