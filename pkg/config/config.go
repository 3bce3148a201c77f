// Package config loads the relay server configuration with viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g.
// CHESSRELAY_ROOM_RECONNECT_GRACE=1m.
const EnvPrefix = "CHESSRELAY"

type ServerConfig struct {
	EventsAddr      string        `mapstructure:"events_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SocketConfig holds websocket transport settings.
type SocketConfig struct {
	ReadBuffer     int           `mapstructure:"read_buffer"`
	WriteBuffer    int           `mapstructure:"write_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
}

// PingPeriod is how often the server pings a peer. It must stay below
// PongWait.
func (s SocketConfig) PingPeriod() time.Duration {
	return (s.PongWait * 9) / 10
}

// RoomConfig holds room lifecycle settings.
type RoomConfig struct {
	// IDStyle is "uuid" or "words".
	IDStyle string `mapstructure:"id_style"`
	// ReconnectGrace is how long a dropped occupant keeps their seat.
	// Zero removes the occupant as soon as the connection drops.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	// EmptyTTL is how long a vacated room is retained. Zero deletes it
	// immediately.
	EmptyTTL time.Duration `mapstructure:"empty_ttl"`
	// IdleTTL closes rooms with no join or move activity for this long.
	// Zero disables idle expiry.
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	EnforceTurns  bool          `mapstructure:"enforce_turns"`
	// MaxBacklog caps the moves queued for a detached occupant. Zero
	// removes the cap.
	MaxBacklog int `mapstructure:"max_backlog"`
}

type LoggingConfig struct {
	// Level is any logrus level name: "trace" through "panic".
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Room    RoomConfig    `mapstructure:"room"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks every setting and reports all violations at once.
func (c Config) Validate() error {
	var errs []string

	if c.Server.EventsAddr == "" {
		errs = append(errs, "server.events_addr must not be empty")
	}
	if c.Server.MetricsAddr == "" {
		errs = append(errs, "server.metrics_addr must not be empty")
	}
	if c.Server.EventsAddr != "" && c.Server.EventsAddr == c.Server.MetricsAddr {
		errs = append(errs, "server.metrics_addr must differ from server.events_addr")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}

	if c.Socket.ReadBuffer < 1 || c.Socket.WriteBuffer < 1 {
		errs = append(errs, "socket.read_buffer and socket.write_buffer must be >= 1")
	}
	if c.Socket.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("socket.max_message_size must be >= 1, got %d", c.Socket.MaxMessageSize))
	}
	if c.Socket.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("socket.send_buffer must be >= 1, got %d", c.Socket.SendBuffer))
	}
	if c.Socket.PongWait <= 0 || c.Socket.WriteWait <= 0 {
		errs = append(errs, "socket.pong_wait and socket.write_wait must be positive")
	}

	switch c.Room.IDStyle {
	case "uuid", "words":
	default:
		errs = append(errs, fmt.Sprintf("room.id_style must be one of [uuid, words], got %q", c.Room.IDStyle))
	}
	if c.Room.ReconnectGrace < 0 || c.Room.EmptyTTL < 0 || c.Room.IdleTTL < 0 {
		errs = append(errs, "room.reconnect_grace, room.empty_ttl and room.idle_ttl must not be negative")
	}
	if c.Room.SweepInterval <= 0 {
		errs = append(errs, "room.sweep_interval must be positive")
	}
	if c.Room.MaxBacklog < 0 {
		errs = append(errs, fmt.Sprintf("room.max_backlog must not be negative, got %d", c.Room.MaxBacklog))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from path, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.events_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":8081")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("socket.read_buffer", 1024)
	v.SetDefault("socket.write_buffer", 1024)
	v.SetDefault("socket.max_message_size", 64*1024)
	v.SetDefault("socket.send_buffer", 256)
	v.SetDefault("socket.pong_wait", "60s")
	v.SetDefault("socket.write_wait", "10s")

	v.SetDefault("room.id_style", "uuid")
	v.SetDefault("room.reconnect_grace", "30s")
	v.SetDefault("room.empty_ttl", "0s")
	v.SetDefault("room.idle_ttl", "0s")
	v.SetDefault("room.sweep_interval", "10s")
	v.SetDefault("room.enforce_turns", false)
	v.SetDefault("room.max_backlog", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}
