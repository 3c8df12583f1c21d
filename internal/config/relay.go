package config

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// RelayConfig describes how to reach the SRS server and how hard to try.
// The timing defaults are tuned to SRS, which drops clients that stay silent
// on the control connection for too long.
type RelayConfig struct {
	Addr              string        `env:"SRS_ADDR, default=127.0.0.1:5002"`
	VoiceAddr         string        `env:"SRS_VOICE_ADDR"`
	ClientVersion     string        `env:"SRS_CLIENT_VERSION, default=1.6.0.0"`
	PacketLayout      string        `env:"SRS_PACKET_LAYOUT, default=legacy"`
	HeartbeatInterval time.Duration `env:"SRS_HEARTBEAT_INTERVAL, default=5s"`
	AckTimeout        time.Duration `env:"SRS_ACK_TIMEOUT, default=10s"`
	BackoffInitial    time.Duration `env:"SRS_BACKOFF_INITIAL, default=1s"`
	BackoffMax        time.Duration `env:"SRS_BACKOFF_MAX, default=30s"`
	MaxRejections     int           `env:"SRS_MAX_REJECTIONS, default=3"`
	MaxSendErrors     int           `env:"SRS_MAX_SEND_ERRORS, default=50"`
}

func NewRelayConfigFromEnv() (*RelayConfig, error) {
	var cfg RelayConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// VoiceAddress is the UDP endpoint for audio. SRS serves voice on the same
// port as the control connection unless told otherwise.
func (c *RelayConfig) VoiceAddress() string {
	if c.VoiceAddr != "" {
		return c.VoiceAddr
	}
	return c.Addr
}

func (c *RelayConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid relay address %q: %w", c.Addr, err)
	}
	if c.VoiceAddr != "" {
		if _, _, err := net.SplitHostPort(c.VoiceAddr); err != nil {
			return fmt.Errorf("invalid voice address %q: %w", c.VoiceAddr, err)
		}
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.AckTimeout <= 0 {
		return fmt.Errorf("ack timeout must be positive")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff must satisfy 0 < initial (%s) <= max (%s)", c.BackoffInitial, c.BackoffMax)
	}
	if c.MaxRejections < 1 {
		return fmt.Errorf("max rejections must be at least 1")
	}
	if c.MaxSendErrors < 1 {
		return fmt.Errorf("max send errors must be at least 1")
	}
	return nil
}
