package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration. Values from -config are overridden
// by flags given explicitly on the command line.
type Config struct {
	ConfigFile     string        `yaml:"-"`
	Server         string        `yaml:"server"`
	Handle         string        `yaml:"handle"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	Subscribe      []string      `yaml:"subscribe"`
	Device         string        `yaml:"device"`
	Discover       bool          `yaml:"discover"`
	Interface      string        `yaml:"interface"`
	Interactive    bool          `yaml:"interactive"`
	ProtocolLog    string        `yaml:"protocol_log"`
	LogLevel       string        `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Server:         "localhost:4444",
		Handle:         "oocsi-cli_####",
		ReconnectDelay: 5 * time.Second,
		CallTimeout:    time.Second,
		LogLevel:       "info",
	}
}

// channelList is a comma separated flag value.
type channelList []string

func (c *channelList) String() string { return strings.Join(*c, ",") }

func (c *channelList) Set(s string) error {
	for _, ch := range strings.Split(s, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			*c = append(*c, ch)
		}
	}
	return nil
}

// parseConfig parses args into a Config, layering defaults, the optional
// YAML file and explicitly set flags.
func parseConfig(args []string) (Config, error) {
	cfg := defaultConfig()
	var flags Config
	var subs channelList

	fs := flag.NewFlagSet("oocsi-cli", flag.ContinueOnError)
	fs.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&flags.Server, "server", cfg.Server, "Server address (host:port)")
	fs.StringVar(&flags.Handle, "handle", cfg.Handle, "Client handle; each # becomes a random digit")
	fs.DurationVar(&flags.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay between connection attempts")
	fs.DurationVar(&flags.CallTimeout, "call-timeout", cfg.CallTimeout, "Default call timeout")
	fs.Var(&subs, "subscribe", "Channels to subscribe (comma separated, repeatable)")
	fs.StringVar(&flags.Device, "device", "", "Announce the device described in this YAML file")
	fs.BoolVar(&flags.Discover, "discover", false, "Find the server via mDNS instead of -server")
	fs.StringVar(&flags.Interface, "interface", "", "Network interface for mDNS discovery")
	fs.BoolVar(&flags.Interactive, "interactive", false, "Start the interactive shell")
	fs.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol trace to this file")
	fs.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if flags.ConfigFile != "" {
		if err := loadConfigFile(flags.ConfigFile, &cfg); err != nil {
			return cfg, err
		}
		cfg.ConfigFile = flags.ConfigFile
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Server = flags.Server
		case "handle":
			cfg.Handle = flags.Handle
		case "reconnect-delay":
			cfg.ReconnectDelay = flags.ReconnectDelay
		case "call-timeout":
			cfg.CallTimeout = flags.CallTimeout
		case "subscribe":
			cfg.Subscribe = subs
		case "device":
			cfg.Device = flags.Device
		case "discover":
			cfg.Discover = flags.Discover
		case "interface":
			cfg.Interface = flags.Interface
		case "interactive":
			cfg.Interactive = flags.Interactive
		case "protocol-log":
			cfg.ProtocolLog = flags.ProtocolLog
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		}
	})

	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}
