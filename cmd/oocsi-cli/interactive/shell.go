// Package interactive provides the interactive shell of oocsi-cli.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/oocsi/oocsi-go/pkg/call"
	"github.com/oocsi/oocsi-go/pkg/connection"
	"github.com/oocsi/oocsi-go/pkg/subscription"
)

// Client is the part of client.Client the shell drives.
type Client interface {
	Handle() string
	State() connection.State
	Subscribe(channel string, cb subscription.Callback) error
	Unsubscribe(channel string) error
	Publish(channel string, fields map[string]any) error
	CallAndWait(ctx context.Context, channel, service string, fields map[string]any, timeout time.Duration) (*call.Call, error)
}

// Shell is the readline-driven command loop.
type Shell struct {
	rl       *readline.Instance
	client   Client
	printer  subscription.Callback
	channels []string
}

// New creates a shell reading from the terminal.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "oocsi> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl}, nil
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that coordinates with the prompt.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Bind attaches the connected client; printer renders subscribed events.
func (s *Shell) Bind(c Client, printer subscription.Callback) {
	s.client = c
	s.printer = printer
}

// Run reads commands until quit, EOF or ctx ends, then calls cancel.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp(s.rl.Stdout())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		if !s.Execute(ctx, s.rl.Stdout(), line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the shell should
// keep running.
func (s *Shell) Execute(ctx context.Context, w io.Writer, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp(w)

	case "sub", "subscribe":
		s.cmdSubscribe(w, args)

	case "unsub", "unsubscribe":
		s.cmdUnsubscribe(w, args)

	case "pub", "publish", "send":
		s.cmdPublish(w, args)

	case "call":
		s.cmdCall(ctx, w, args)

	case "status":
		s.cmdStatus(w)

	case "quit", "exit", "q":
		fmt.Fprintln(w, "Exiting...")
		return false

	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp(w io.Writer) {
	fmt.Fprintln(w, `
OOCSI Commands:
  Channels:
    sub <channel>                         - Subscribe and print events
    unsub <channel>                       - Unsubscribe
    pub <channel> <payload>               - Publish a payload
    call <channel> <service> [payload]    - Call a service and wait

  General:
    status                                - Show connection status
    help                                  - Show this help
    quit                                  - Exit

  Payload Format:
    JSON object ({"temp": 21.5}) or key=value pairs (temp=21.5 on=true)`)
}

func (s *Shell) cmdSubscribe(w io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: sub <channel>")
		return
	}
	if err := s.client.Subscribe(args[0], s.printer); err != nil {
		fmt.Fprintf(w, "Subscribe failed: %v\n", err)
		return
	}
	s.channels = appendUnique(s.channels, args[0])
	fmt.Fprintf(w, "Subscribed to %s\n", args[0])
}

func (s *Shell) cmdUnsubscribe(w io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: unsub <channel>")
		return
	}
	if err := s.client.Unsubscribe(args[0]); err != nil {
		fmt.Fprintf(w, "Unsubscribe failed: %v\n", err)
		return
	}
	s.channels = remove(s.channels, args[0])
	fmt.Fprintf(w, "Unsubscribed from %s\n", args[0])
}

func (s *Shell) cmdPublish(w io.Writer, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(w, "Usage: pub <channel> <payload>")
		return
	}
	payload, err := ParsePayload(args[1:])
	if err != nil {
		fmt.Fprintf(w, "Invalid payload: %v\n", err)
		return
	}
	if err := s.client.Publish(args[0], payload); err != nil {
		fmt.Fprintf(w, "Publish failed: %v\n", err)
		return
	}
	fmt.Fprintln(w, "OK")
}

func (s *Shell) cmdCall(ctx context.Context, w io.Writer, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(w, "Usage: call <channel> <service> [payload]")
		return
	}
	payload, err := ParsePayload(args[2:])
	if err != nil {
		fmt.Fprintf(w, "Invalid payload: %v\n", err)
		return
	}

	pending, err := s.client.CallAndWait(ctx, args[0], args[1], payload, 0)
	if err != nil {
		fmt.Fprintf(w, "Call failed: %v\n", err)
		return
	}
	if !pending.Resolved() {
		fmt.Fprintf(w, "No response from %s within %s\n", args[1], pending.Expires.Sub(pending.Created))
		return
	}

	out, err := json.Marshal(pending.Response())
	if err != nil {
		fmt.Fprintf(w, "Response: %v\n", pending.Response())
		return
	}
	fmt.Fprintf(w, "Response: %s\n", out)
}

func (s *Shell) cmdStatus(w io.Writer) {
	fmt.Fprintf(w, "Handle:   %s\n", s.client.Handle())
	fmt.Fprintf(w, "State:    %s\n", s.client.State())
	if len(s.channels) == 0 {
		fmt.Fprintln(w, "Channels: (none)")
		return
	}
	fmt.Fprintf(w, "Channels: %s\n", strings.Join(s.channels, ", "))
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
