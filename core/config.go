package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/lisuiheng/agentconn/logger"
	"github.com/lisuiheng/agentconn/protocols/websocket"
	"github.com/spf13/viper"
)

// Config mirrors the YAML config file.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Agents    []AgentConfig   `mapstructure:"agents"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Logging   logger.Config   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	AccessToken      string        `mapstructure:"access_token"`
	ProtocolVersion  int           `mapstructure:"protocol_version"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type AgentConfig struct {
	Agent     string   `mapstructure:"agent"`
	Name      string   `mapstructure:"name"`
	SessionID string   `mapstructure:"session_id"`
	Topics    []string `mapstructure:"topics"`
}

// ID is the store key for this agent.
func (a AgentConfig) ID() string {
	return agentstate.AgentID(a.Agent, a.Name)
}

type ReconnectConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	// MaxAttempts stops reconnecting after this many disconnects; 0 means never stop.
	MaxAttempts int `mapstructure:"max_attempts"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
}

// SetDefaults registers default values on v. Every scalar key needs an entry
// here, even an empty one, or AutomaticEnv will not see it on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "")
	v.SetDefault("server.access_token", "")
	v.SetDefault("server.prefix", "/agents")
	v.SetDefault("server.protocol_version", 1)
	v.SetDefault("server.handshake_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.ping_interval", "30s")
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.initial_delay", "1s")
	v.SetDefault("reconnect.max_delay", "30s")
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.path", "/metrics")
}

// LoadConfig reads configPath, or searches the default locations when it is
// empty, applying defaults and AGENTCONN_* environment overrides. A missing
// file is only an error when configPath was given explicitly.
func LoadConfig(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AGENTCONN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/agentconn")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("%w: server.url is required", ErrInvalidConfig)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Agent == "" {
			return fmt.Errorf("%w: agents[%d].agent is required", ErrInvalidConfig, i)
		}
		if _, err := websocket.BuildURL(websocket.Config{ServerURL: c.Server.URL, Prefix: c.Server.Prefix, Agent: a.Agent, Name: a.Name}); err != nil {
			return fmt.Errorf("%w: server.url: %v", ErrInvalidConfig, err)
		}
		if seen[a.ID()] {
			return fmt.Errorf("%w: duplicate agent %q", ErrInvalidConfig, a.ID())
		}
		seen[a.ID()] = true
	}
	if c.Reconnect.Enabled && c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("%w: reconnect.max_delay is less than reconnect.initial_delay", ErrInvalidConfig)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("%w: reconnect.max_attempts must not be negative", ErrInvalidConfig)
	}
	return nil
}
