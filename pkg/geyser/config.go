package geyser

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Default configuration values.
const (
	// DefaultListenAddr is the default gRPC listen address.
	DefaultListenAddr = "127.0.0.1:10000"

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultReconnectMinDelay is the minimum delay before reconnecting.
	DefaultReconnectMinDelay = 1 * time.Second

	// DefaultReconnectMaxDelay is the maximum delay before reconnecting.
	DefaultReconnectMaxDelay = 60 * time.Second

	// DefaultChannelSize is the default buffer size for the update channel.
	DefaultChannelSize = 1024

	// DefaultMaxMessageSize is the default maximum gRPC message size.
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultMaxSubscribers caps concurrent Subscribe streams.
	DefaultMaxSubscribers = 64

	// DefaultSubscriberBuffer is the per-stream backlog before a
	// subscriber is disconnected as too slow.
	DefaultSubscriberBuffer = 1024
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// Config holds the configuration for the Geyser client.
type Config struct {
	// Endpoint is the gRPC endpoint (e.g., "127.0.0.1:10000").
	// Required.
	Endpoint string

	// Token is sent in the x-token header.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Request selects which updates to receive.
	Request SubscribeRequest

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Reconnection configuration.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	MaxReconnects     int // 0 = unlimited

	// ChannelSize is the update channel buffer size.
	ChannelSize int

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// Headers are additional headers to send with the Subscribe call.
	Headers map[string]string

	// OnConnect is called when connection is established (optional).
	OnConnect func()

	// OnDisconnect is called when connection is lost (optional).
	OnDisconnect func(error)

	// OnReconnect is called when reconnection succeeds (optional).
	OnReconnect func(attempt int)
}

// DefaultConfig returns a client configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Request: SubscribeRequest{Transactions: true, Slots: true},

		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,

		ReconnectMinDelay: DefaultReconnectMinDelay,
		ReconnectMaxDelay: DefaultReconnectMaxDelay,

		ChannelSize:    DefaultChannelSize,
		MaxMessageSize: DefaultMaxMessageSize,

		Headers: make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}

	if c.ChannelSize <= 0 {
		return fmt.Errorf("%w: channel size must be positive", ErrInvalidConfig)
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}

	if c.KeepaliveTime <= 0 || c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive time and timeout must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMinDelay <= 0 {
		return fmt.Errorf("%w: reconnect min delay must be positive", ErrInvalidConfig)
	}

	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("%w: reconnect max delay must be >= min delay", ErrInvalidConfig)
	}

	if c.MaxReconnects < 0 {
		return fmt.Errorf("%w: max reconnects must not be negative", ErrInvalidConfig)
	}

	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = defaults.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if c.ChannelSize == 0 {
		c.ChannelSize = defaults.ChannelSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}

	return c
}

// ExpandedToken returns the token with environment variable expansion.
func (c *Config) ExpandedToken() string {
	return os.ExpandEnv(c.Token)
}

// ServerConfig holds the configuration for the Geyser gRPC server.
type ServerConfig struct {
	// ListenAddr is the address the server listens on.
	ListenAddr string `yaml:"listen"`

	// Token, when set, must be presented by subscribers in x-token.
	Token string `yaml:"token"`

	// MaxSubscribers caps concurrent Subscribe streams.
	MaxSubscribers int `yaml:"max_subscribers"`

	// SubscriberBuffer is the per-stream backlog.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// Keepalive configuration.
	KeepaliveTime    time.Duration `yaml:"keepalive_time"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
}

// DefaultServerConfig returns a server configuration with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       DefaultListenAddr,
		MaxSubscribers:   DefaultMaxSubscribers,
		SubscriberBuffer: DefaultSubscriberBuffer,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// WithDefaults returns a copy with zero values replaced by defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	defaults := DefaultServerConfig()

	if c.ListenAddr == "" {
		c.ListenAddr = defaults.ListenAddr
	}
	if c.MaxSubscribers == 0 {
		c.MaxSubscribers = defaults.MaxSubscribers
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = defaults.SubscriberBuffer
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	return c
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: listen address: %v", ErrInvalidConfig, err)
	}
	if c.MaxSubscribers <= 0 {
		return fmt.Errorf("%w: max subscribers must be positive", ErrInvalidConfig)
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("%w: subscriber buffer must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ExpandedToken returns the token with environment variable expansion.
func (c *ServerConfig) ExpandedToken() string {
	return os.ExpandEnv(c.Token)
}
