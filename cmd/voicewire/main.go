// Command voicewire is an interactive shell around the voice client, with an
// optional HTTP diagnostics endpoint for health, state and metrics.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voicewire"
)

type cliConfig struct {
	configPath string
	listen     string
	verbose    bool
}

func parseFlags(args []string) cliConfig {
	fs := flag.NewFlagSet("voicewire", flag.ExitOnError)
	cfg := cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&cfg.listen, "listen", "", "diagnostics HTTP address, e.g. 127.0.0.1:9090 (off when empty)")
	fs.BoolVar(&cfg.verbose, "v", false, "verbose process logs")
	_ = fs.Parse(args)
	return cfg
}

func main() {
	_ = godotenv.Load()

	cfg := parseFlags(os.Args[1:])

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := voicewire.New(
		voicewire.WithConfigFile(cfg.configPath),
		voicewire.WithEventSink(&shellSink{out: os.Stdout}),
		voicewire.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", err)
		os.Exit(1)
	}

	listen := cfg.listen
	if listen == "" {
		listen = client.DiagnosticsAddr()
	}

	var diag *echo.Echo
	if listen != "" {
		diag = newDiagServer(client)
		go func() {
			if err := diag.Start(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "diagnostics server: %v\n", err)
			}
		}()
	}

	shellErr := runShell(client, os.Stdin, os.Stdout, os.Stderr)

	if diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = diag.Shutdown(ctx)
		cancel()
	}
	_ = client.Close()

	if shellErr != nil {
		fmt.Fprintf(os.Stderr, "voicewire: %v\n", shellErr)
		os.Exit(1)
	}
}

func runShell(client *voicewire.Client, in io.Reader, out, errOut io.Writer) error {
	fmt.Fprintf(out, "voicewire shell, server %s\n", client.RuntimeInfo()["serverURL"])
	fmt.Fprintln(out, `Type "help" for commands, "quit" to leave.`)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := dispatch(client, line, out, errOut); quit {
			return nil
		}
	}
}

// dispatch runs one shell command and reports whether the shell should exit.
func dispatch(client *voicewire.Client, line string, out, errOut io.Writer) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "quit", "exit":
		fmt.Fprintln(out, "bye")
		return true
	case "help":
		printHelp(out)
	case "connect":
		err = client.Connect()
	case "disconnect":
		err = client.Disconnect()
	case "rec":
		err = client.StartRecording()
	case "stop":
		err = client.StopRecording()
	case "say":
		if arg == "" {
			fmt.Fprintln(errOut, "usage: say <text>")
			break
		}
		err = client.SendMessage(arg)
	case "voice":
		if arg == "" {
			fmt.Fprintln(errOut, "usage: voice <id>")
			break
		}
		err = client.SetVoice(arg)
	case "lang":
		if arg == "" {
			fmt.Fprintln(errOut, "usage: lang <code>")
			break
		}
		err = client.SetLanguage(arg)
	case "status":
		printStatus(client, out)
	case "msgs":
		printMessages(client, out)
	case "logs":
		printLogs(client, out)
	case "clear":
		switch arg {
		case "msgs":
			client.ClearMessages()
			fmt.Fprintln(out, "message history cleared")
		case "logs":
			client.ClearDebugLogs()
			fmt.Fprintln(out, "debug logs cleared")
		default:
			fmt.Fprintln(errOut, "usage: clear msgs|logs")
		}
	default:
		fmt.Fprintf(errOut, "unknown command %q, try \"help\"\n", cmd)
	}

	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
	}
	return false
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `commands:
  connect            open the voice session
  disconnect         close the voice session
  rec                start recording the microphone
  stop               stop recording
  say <text>         send a typed message
  voice <id>         select the server voice
  lang <code>        select the conversation language
  status             show connection and recording state
  msgs               show the conversation history
  logs               show the debug telemetry ring
  clear msgs|logs    empty the history or the debug ring
  quit               leave the shell
`)
}

func printStatus(client *voicewire.Client, out io.Writer) {
	state := client.State()
	fmt.Fprintf(out, "status: %s\n", state.Status)
	fmt.Fprintf(out, "recording: %v  listening: %v  push-to-talk: %v\n",
		state.Flags.Recording, state.Flags.Listening, state.Flags.PushToTalk)
	if state.Voice != "" {
		fmt.Fprintf(out, "voice: %s\n", state.Voice)
	}
	if state.Language != "" {
		fmt.Fprintf(out, "language: %s\n", state.Language)
	}
}

func printMessages(client *voicewire.Client, out io.Writer) {
	msgs := client.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no messages")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(out, "%s  %-9s  %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Text)
	}
}

func printLogs(client *voicewire.Client, out io.Writer) {
	entries := client.DebugLogs()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no log entries")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-7s  %s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Message)
	}
}

// shellSink prints push-style session events between prompts.
type shellSink struct {
	out io.Writer
}

func (s *shellSink) StatusChanged(_ voicewire.Status, reason voicewire.StatusReason) {
	fmt.Fprintf(s.out, "\n<< %s\n", voicewire.StatusMessage(reason))
}

func (s *shellSink) PartialTranscript(_ string, text string) {
	fmt.Fprintf(s.out, "\n.. %s\n", text)
}

func (s *shellSink) MessageSealed(msg voicewire.Message) {
	fmt.Fprintf(s.out, "\n%s: %s\n", msg.Role, msg.Text)
}

func (s *shellSink) SessionError(code voicewire.ErrorCode, detail string) {
	fmt.Fprintf(s.out, "\n!! %s: %s\n", voicewire.ErrorMessage(code, detail), detail)
}

type diagHandlers struct {
	client *voicewire.Client
}

func newDiagServer(client *voicewire.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := diagHandlers{client: client}
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/status", h.status)
	e.GET("/messages", h.messages)
	e.GET("/debug/logs", h.debugLogs)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(client.Registry(), promhttp.HandlerOpts{})))
	return e
}

func (h diagHandlers) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.client.State())
}

func (h diagHandlers) messages(c echo.Context) error {
	return c.JSON(http.StatusOK, h.client.Messages())
}

func (h diagHandlers) debugLogs(c echo.Context) error {
	return c.JSON(http.StatusOK, h.client.DebugLogs())
}
