// Package config loads the runtime's YAML configuration: relay timing, the
// MTU/overhead constants the ack manager uses to size outgoing packets, SNP
// queue sizing, and the control-process bridge's port and reconnect backoff.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvOverride names the environment variable that, if set, overrides the
// config path passed to Load.
const EnvOverride = "BWBRIDGE_CONFIG"

// Runtime holds every tunable this runtime's components read at startup.
type Runtime struct {
	// LogLevel is one of "debug", "info", "warn", "error" (default: info).
	LogLevel string `yaml:"log_level"`

	// BindAddress is the local UDP address the transport binds.
	BindAddress string `yaml:"bind_address"`

	Relay  RelayConfig  `yaml:"relay"`
	Wire   WireConfig   `yaml:"wire"`
	Snp    SnpConfig    `yaml:"snp"`
	Bridge BridgeConfig `yaml:"bridge"`
}

// RelayConfig controls the relay client's timing.
type RelayConfig struct {
	ResendIntervalMS    int `yaml:"resend_interval_ms"`
	KeepAliveIntervalMS int `yaml:"keep_alive_interval_ms"`
	JoinTimeoutMS       int `yaml:"join_timeout_ms"`
	RouteStaleAfterMS   int `yaml:"route_stale_after_ms"`
}

func (r RelayConfig) ResendInterval() time.Duration {
	return time.Duration(r.ResendIntervalMS) * time.Millisecond
}

func (r RelayConfig) KeepAliveInterval() time.Duration {
	return time.Duration(r.KeepAliveIntervalMS) * time.Millisecond
}

func (r RelayConfig) JoinTimeout() time.Duration {
	return time.Duration(r.JoinTimeoutMS) * time.Millisecond
}

func (r RelayConfig) RouteStaleAfter() time.Duration {
	return time.Duration(r.RouteStaleAfterMS) * time.Millisecond
}

// WireConfig controls the ack manager's packet-size budget, derived from an
// MTU floor minus UDP/IP and relay overhead.
type WireConfig struct {
	MTUFloor      int `yaml:"mtu_floor"`
	UDPIPOverhead int `yaml:"udp_ip_overhead"`
	RelayOverhead int `yaml:"relay_overhead"`
	// MaxPayloadAgeMS enables a dedicated resend packet for unacked payloads
	// squeezed out of the piggyback budget for longer than this; 0 disables.
	MaxPayloadAgeMS int `yaml:"max_payload_age_ms"`
}

func (w WireConfig) MaxPayloadAge() time.Duration {
	return time.Duration(w.MaxPayloadAgeMS) * time.Millisecond
}

// MaxPayloadSize returns the per-GameMessage payload budget: the MTU floor
// minus UDP/IP overhead, relay overhead, and the worst-case header size.
func (w WireConfig) MaxPayloadSize(headerSize int) int {
	budget := w.MTUFloor - w.UDPIPOverhead - w.RelayOverhead - headerSize
	if budget < 0 {
		return 0
	}
	return budget
}

// SnpConfig sizes the SNP adapter's bounded queues.
type SnpConfig struct {
	InboundQueueSize  int `yaml:"inbound_queue_size"`
	OutboundQueueSize int `yaml:"outbound_queue_size"`
}

// BridgeConfig controls the control-process bridge's connection.
type BridgeConfig struct {
	Port               int `yaml:"port"`
	ReconnectBackoffMS int `yaml:"reconnect_backoff_ms"`
}

func (b BridgeConfig) ReconnectBackoff() time.Duration {
	return time.Duration(b.ReconnectBackoffMS) * time.Millisecond
}

// Default returns the runtime's built-in defaults, used when no config file
// is present and as the base that a present file's fields overlay.
func Default() Runtime {
	return Runtime{
		LogLevel:    "info",
		BindAddress: "[::]:0",
		Relay: RelayConfig{
			ResendIntervalMS:    500,
			KeepAliveIntervalMS: 500,
			JoinTimeoutMS:       5000,
			RouteStaleAfterMS:   5000,
		},
		Wire: WireConfig{
			MTUFloor:      1200,
			UDPIPOverhead: 68,
			RelayOverhead: 13,
		},
		Snp: SnpConfig{
			InboundQueueSize:  256,
			OutboundQueueSize: 256,
		},
		Bridge: BridgeConfig{
			Port:               0,
			ReconnectBackoffMS: 1000,
		},
	}
}

// Load reads a Runtime config from path, overlaying it onto Default(). A
// missing file is not an error; the defaults are returned as-is.
func Load(path string) (Runtime, error) {
	if p := os.Getenv(EnvOverride); p != "" {
		path = p
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}
