// Command oocsi-cli connects to an OOCSI server from the command line.
//
// Without -interactive it subscribes to the configured channels and prints
// every event as one JSON line. With -interactive it opens a shell for
// subscribing, publishing and calling services.
//
// Usage:
//
//	oocsi-cli [flags]
//
// Examples:
//
//	# Print everything on two channels
//	oocsi-cli -server localhost:4444 -subscribe room,hall
//
//	# Find the server on the local network and open a shell
//	oocsi-cli -discover -interactive
//
//	# Announce a device and record a protocol trace
//	oocsi-cli -device kitchen.yaml -protocol-log cli.olog
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oocsi/oocsi-go/cmd/oocsi-cli/interactive"
	"github.com/oocsi/oocsi-go/pkg/client"
	"github.com/oocsi/oocsi-go/pkg/device"
	"github.com/oocsi/oocsi-go/pkg/discovery"
	"github.com/oocsi/oocsi-go/pkg/log"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg Config) error {
	level, _ := parseLevel(cfg.LogLevel)
	var logOut io.Writer = os.Stderr

	var shell *interactive.Shell
	if cfg.Interactive {
		var err error
		shell, err = interactive.New()
		if err != nil {
			return err
		}
		// Log through readline so output does not clobber the prompt.
		logOut = shell.Stderr()
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.Discover {
		browser := discovery.NewBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
		logger.Info("Looking for OOCSI servers", "service", discovery.ServiceType)
		srv, err := browser.FindFirst(ctx)
		if err != nil {
			return err
		}
		cfg.Server = srv.Address()
		logger.Info("Found server", "instance", srv.Instance, "address", cfg.Server)
	}

	ccfg := client.DefaultConfig()
	ccfg.Address = cfg.Server
	ccfg.Handle = cfg.Handle
	ccfg.ReconnectDelay = cfg.ReconnectDelay
	ccfg.CallTimeout = cfg.CallTimeout
	ccfg.Logger = logger

	if cfg.ProtocolLog != "" {
		trace, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return err
		}
		defer trace.Close()
		ccfg.ProtocolLogger = trace
		logger.Info("Protocol trace enabled", "file", cfg.ProtocolLog)
	}

	printer := eventPrinter(os.Stdout)
	if shell != nil {
		printer = eventPrinter(shell.Stdout())
	}
	ccfg.OnMessage = printer

	c, err := client.New(ccfg)
	if err != nil {
		return err
	}
	c.Start()
	defer func() {
		c.Stop()
		<-c.Done()
	}()

	logger.Info("Connecting", "server", cfg.Server, "handle", c.Handle())
	if err := c.WaitConnected(ctx); err != nil {
		return err
	}

	for _, ch := range cfg.Subscribe {
		if err := c.Subscribe(ch, printer); err != nil {
			return err
		}
	}

	if cfg.Device != "" {
		if err := announce(c, cfg.Device); err != nil {
			return err
		}
	}

	if shell != nil {
		shell.Bind(c, printer)
		go shell.Run(ctx, cancel)
	}

	select {
	case <-ctx.Done():
	case <-c.Done():
		logger.Warn("Connection closed", "state", c.State())
	}
	return nil
}

func announce(c *client.Client, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	spec, err := device.LoadSpec(f)
	if err != nil {
		return err
	}
	b := spec.Apply(c.Device(spec.Name))
	for _, w := range b.Warnings() {
		slog.Warn("Device description", "warning", w)
	}
	return b.Submit()
}

// printedEvent is the JSON line written for every received event.
type printedEvent struct {
	Time      time.Time      `json:"time"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data"`
}

func eventPrinter(w io.Writer) func(sender, recipient string, fields map[string]any) {
	enc := json.NewEncoder(w)
	return func(sender, recipient string, fields map[string]any) {
		_ = enc.Encode(printedEvent{Time: time.Now(), Sender: sender, Recipient: recipient, Data: fields})
	}
}
