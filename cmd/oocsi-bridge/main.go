// Command oocsi-bridge mirrors OOCSI channels into Redis and exposes client
// metrics for Prometheus.
//
// For every subscribed channel the last event is kept in Redis under
// "oocsi:last:<channel>" and re-published on "oocsi:events:<channel>".
// The HTTP listener serves /metrics, /healthz, /last and /last/{channel}.
//
// Usage:
//
//	oocsi-bridge [flags]
//
// Examples:
//
//	# Mirror two channels and serve metrics on :9464
//	oocsi-bridge -server localhost:4444 -channels room,hall -redis localhost:6379
//
//	# Metrics only, server found via mDNS
//	oocsi-bridge -discover -channels room
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/oocsi/oocsi-go/pkg/client"
	"github.com/oocsi/oocsi-go/pkg/connection"
	"github.com/oocsi/oocsi-go/pkg/discovery"
	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/metrics"
	"github.com/oocsi/oocsi-go/pkg/mirror"
)

// Config holds the bridge configuration.
type Config struct {
	Server      string
	Handle      string
	Channels    string
	Discover    bool
	Redis       string
	RedisTTL    time.Duration
	MetricsAddr string
	ProtocolLog string
	LogLevel    string
}

var config Config

func init() {
	flag.StringVar(&config.Server, "server", client.DefaultAddress, "Server address (host:port)")
	flag.StringVar(&config.Handle, "handle", "oocsi-bridge_####", "Client handle; each # becomes a random digit")
	flag.StringVar(&config.Channels, "channels", "", "Channels to mirror (comma separated)")
	flag.BoolVar(&config.Discover, "discover", false, "Find the server via mDNS instead of -server")
	flag.StringVar(&config.Redis, "redis", "", "Redis address; empty disables mirroring")
	flag.DurationVar(&config.RedisTTL, "redis-ttl", mirror.DefaultTTL, "How long last values are kept")
	flag.StringVar(&config.MetricsAddr, "metrics-addr", ":9464", "Listen address for /metrics; empty disables it")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a protocol trace to this file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("Bridge failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Goodbye!")
}

func run(ctx context.Context, logger *slog.Logger) error {
	channels := splitChannels(config.Channels)
	if len(channels) == 0 {
		return errors.New("no channels to mirror (use -channels)")
	}

	if config.Discover {
		srv, err := discovery.NewBrowser(discovery.BrowserConfig{}).FindFirst(ctx)
		if err != nil {
			return err
		}
		config.Server = srv.Address()
		logger.Info("Found server", "instance", srv.Instance, "address", config.Server)
	}

	mir, err := mirror.NewRedisMirror(config.Redis, config.RedisTTL, logger)
	if err != nil {
		return err
	}
	defer mir.Close()

	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		return err
	}

	ccfg := client.DefaultConfig()
	ccfg.Address = config.Server
	ccfg.Handle = config.Handle
	ccfg.Logger = logger
	ccfg.Metrics = m

	if config.ProtocolLog != "" {
		trace, err := log.NewFileLogger(config.ProtocolLog)
		if err != nil {
			return err
		}
		defer trace.Close()
		ccfg.ProtocolLogger = trace
	}

	c, err := client.New(ccfg)
	if err != nil {
		return err
	}

	// Subscriptions made before the first handshake are sent with it.
	for _, ch := range channels {
		if err := c.Subscribe(ch, mir.Callback()); err != nil {
			return err
		}
	}

	c.Start()
	defer func() {
		c.Stop()
		<-c.Done()
	}()
	logger.Info("Bridge started", "server", config.Server, "handle", c.Handle(), "channels", channels, "redis", config.Redis != "")

	if config.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           newMux(reg, c, mir),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("Serving metrics", "addr", config.MetricsAddr)
	}

	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return fmt.Errorf("connection closed: %s", c.State())
	}
}

// stateReporter is the part of a client the health endpoint reads.
type stateReporter interface {
	State() connection.State
}

// lastReader is the part of the mirror the HTTP endpoints read.
type lastReader interface {
	Last(ctx context.Context, channel string) (*mirror.Record, error)
	Channels(ctx context.Context) ([]string, error)
}

func newMux(reg *prometheus.Registry, c stateReporter, last lastReader) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := c.State()
		if state != connection.StateConnected {
			http.Error(w, state.String(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, state)
	})

	mux.HandleFunc("/last", func(w http.ResponseWriter, r *http.Request) {
		channels, err := last.Channels(r.Context())
		if err != nil {
			writeMirrorError(w, r, err)
			return
		}
		sort.Strings(channels)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(channels)
	})

	mux.HandleFunc("/last/{channel}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := last.Last(r.Context(), r.PathValue("channel"))
		if err != nil {
			writeMirrorError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	})

	return mux
}

func writeMirrorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, redis.Nil):
		http.NotFound(w, r)
	case errors.Is(err, mirror.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func splitChannels(s string) []string {
	var out []string
	for _, ch := range strings.Split(s, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
