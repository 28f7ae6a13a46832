// Package config parses the command-line flags of the relay binaries. Each
// binary accepts -config naming a YAML file; flags given explicitly on the
// command line override values from the file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/testpattern"
	"github.com/junsooki/airrelay/internal/wire"
)

// Sources the extension can stream from.
const (
	SourcePattern = "pattern"
	SourceScreen  = "screen"
)

// DefaultAppGroupDir stands in for the shared app-group container.
var DefaultAppGroupDir = filepath.Join(os.TempDir(), "group.airrelay")

// Socket holds the settings both ends of the local socket share.
type Socket struct {
	AppGroupDir string `yaml:"app_group_dir"`
	SocketPath  string `yaml:"socket_path"`
	MaxPayload  uint   `yaml:"max_payload"`
}

// Endpoint returns the socket endpoint: SocketPath when set, otherwise the
// conventional file inside AppGroupDir.
func (s Socket) Endpoint() socket.Endpoint {
	if s.SocketPath != "" {
		return socket.Endpoint(s.SocketPath)
	}
	return socket.EndpointIn(s.AppGroupDir)
}

// PayloadLimit returns MaxPayload as the codec expects it.
func (s Socket) PayloadLimit() uint32 {
	return uint32(s.MaxPayload)
}

func (s *Socket) register(fs *flag.FlagSet) {
	fs.StringVar(&s.AppGroupDir, "app-group", DefaultAppGroupDir, "Shared directory holding the socket file")
	fs.StringVar(&s.SocketPath, "socket", "", "Socket path (overrides -app-group)")
	fs.UintVar(&s.MaxPayload, "max-payload", uint(wire.DefaultMaxPayload), "Largest frame payload in bytes")
}

func (s Socket) validate() error {
	if s.MaxPayload == 0 || s.MaxPayload > math.MaxUint32 {
		return fmt.Errorf("max-payload must be in 1..%d", uint32(math.MaxUint32))
	}
	if s.SocketPath == "" && s.AppGroupDir == "" {
		return errors.New("either -socket or -app-group is required")
	}
	return nil
}

// Remote holds the WebRTC relay settings.
type Remote struct {
	SignalingURL string `yaml:"signaling_url"`
	ICEServers   string `yaml:"ice_servers"`
	Loopback     bool   `yaml:"loopback"`
}

// ICEURLs returns the configured STUN/TURN URLs. "none" disables them and
// an empty value selects the defaults (nil).
func (r Remote) ICEURLs() []string {
	switch strings.TrimSpace(r.ICEServers) {
	case "":
		return nil
	case "none":
		return []string{}
	}
	var urls []string
	for _, u := range strings.Split(r.ICEServers, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (r *Remote) register(fs *flag.FlagSet) {
	fs.StringVar(&r.SignalingURL, "signaling", "ws://localhost:8080", "Signaling server WebSocket URL")
	fs.StringVar(&r.ICEServers, "ice", "", `Comma-separated ICE server URLs ("none" disables STUN)`)
	fs.BoolVar(&r.Loopback, "loopback", false, "Gather loopback ICE candidates")
}

// HostConfig holds configuration for the host binary.
type HostConfig struct {
	Socket  `yaml:",inline"`
	Remote  `yaml:",inline"`
	HostID  string `yaml:"host_id"`
	Quality int    `yaml:"quality"`
	Rearm   bool   `yaml:"rearm"`
	Metrics string `yaml:"metrics_addr"`
	Verbose bool   `yaml:"verbose"`
}

// ParseHostFlags parses flags for the host binary.
func ParseHostFlags(args []string) (*HostConfig, error) {
	cfg := &HostConfig{}
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")
	cfg.Socket.register(fs)
	cfg.Remote.register(fs)
	fs.StringVar(&cfg.HostID, "id", "", "Host ID (auto-generated if empty)")
	fs.IntVar(&cfg.Quality, "quality", 70, "JPEG quality (1-100)")
	fs.BoolVar(&cfg.Rearm, "rearm", true, "Listen again after a broadcast ends")
	fs.StringVar(&cfg.Metrics, "metrics", "", "Address to serve /metrics on (empty disables)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Debug logging")

	if err := parse(fs, args, path, cfg); err != nil {
		return nil, err
	}
	if cfg.HostID == "" {
		cfg.HostID = newID("host")
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("quality must be in 1..100, got %d", cfg.Quality)
	}
	if err := cfg.Socket.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExtensionConfig holds configuration for the extension binary.
type ExtensionConfig struct {
	Socket      `yaml:",inline"`
	Source      string        `yaml:"source"`
	Display     int           `yaml:"display"`
	FPS         int           `yaml:"fps"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	Frames      int           `yaml:"frames"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Verbose     bool          `yaml:"verbose"`
}

// ParseExtensionFlags parses flags for the extension binary.
func ParseExtensionFlags(args []string) (*ExtensionConfig, error) {
	cfg := &ExtensionConfig{}
	fs := flag.NewFlagSet("extension", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")
	cfg.Socket.register(fs)
	fs.StringVar(&cfg.Source, "source", SourcePattern, "Frame source: pattern or screen")
	fs.IntVar(&cfg.Display, "display", 0, "Display index to capture (0 = primary)")
	fs.IntVar(&cfg.FPS, "fps", testpattern.DefaultConfig().FPS, "Target frames per second")
	fs.IntVar(&cfg.Width, "width", testpattern.DefaultConfig().Width, "Test pattern width")
	fs.IntVar(&cfg.Height, "height", testpattern.DefaultConfig().Height, "Test pattern height")
	fs.IntVar(&cfg.Frames, "frames", 0, "Stop after this many frames (0 streams until interrupted)")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", 10*time.Second, "How long to wait for the host to listen")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Debug logging")

	if err := parse(fs, args, path, cfg); err != nil {
		return nil, err
	}
	switch cfg.Source {
	case SourcePattern, SourceScreen:
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
	if cfg.Frames < 0 {
		return nil, errors.New("frames must not be negative")
	}
	if err := cfg.Socket.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ControllerConfig holds configuration for the controller binary.
type ControllerConfig struct {
	Remote       `yaml:",inline"`
	ControllerID string        `yaml:"controller_id"`
	HostID       string        `yaml:"host_id"`
	MaxPayload   uint          `yaml:"max_payload"`
	SnapshotDir  string        `yaml:"snapshot_dir"`
	SnapshotRate time.Duration `yaml:"snapshot_every"`
	Verbose      bool          `yaml:"verbose"`
}

// ParseControllerFlags parses flags for the controller binary.
func ParseControllerFlags(args []string) (*ControllerConfig, error) {
	cfg := &ControllerConfig{}
	fs := flag.NewFlagSet("controller", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")
	cfg.Remote.register(fs)
	fs.StringVar(&cfg.ControllerID, "id", "", "Controller ID (auto-generated if empty)")
	fs.StringVar(&cfg.HostID, "host", "", "Host ID to connect to (required)")
	fs.UintVar(&cfg.MaxPayload, "max-payload", uint(wire.DefaultMaxPayload), "Largest frame payload in bytes")
	fs.StringVar(&cfg.SnapshotDir, "snapshots", "", "Directory to write PNG snapshots to (empty disables)")
	fs.DurationVar(&cfg.SnapshotRate, "snapshot-every", 5*time.Second, "Minimum time between snapshots")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Debug logging")

	if err := parse(fs, args, path, cfg); err != nil {
		return nil, err
	}
	if cfg.ControllerID == "" {
		cfg.ControllerID = newID("controller")
	}
	if cfg.HostID == "" {
		return nil, errors.New("-host is required")
	}
	if cfg.MaxPayload == 0 || cfg.MaxPayload > math.MaxUint32 {
		return nil, fmt.Errorf("max-payload must be in 1..%d", uint32(math.MaxUint32))
	}
	return cfg, nil
}

// parse parses args into fs. When a config file is named, it is loaded over
// the defaults and the explicitly set flags are applied again on top.
func parse(fs *flag.FlagSet, args []string, path *string, dst any) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return nil
	}

	explicit := map[string]string{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

	data, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %s: %w", *path, err)
	}
	for name, v := range explicit {
		if err := fs.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
