package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream" yaml:"upstream"`
	Bootstrap  BootstrapConfig  `mapstructure:"bootstrap" yaml:"bootstrap"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast" yaml:"broadcast"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
}

type UpstreamConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url"`
	Topics              []string      `mapstructure:"topics" yaml:"topics"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	HandshakeRetryDelay time.Duration `mapstructure:"handshake_retry_delay" yaml:"handshake_retry_delay"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	NegotiateTimeout    time.Duration `mapstructure:"negotiate_timeout" yaml:"negotiate_timeout"`
}

type BootstrapConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	SessionPath string        `mapstructure:"session_path" yaml:"session_path"`
	Topics      []string      `mapstructure:"topics" yaml:"topics"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	RatePerSec  int           `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryCount  int           `mapstructure:"retry_count" yaml:"retry_count"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

type BroadcastConfig struct {
	RecentCapacity int           `mapstructure:"recent_capacity" yaml:"recent_capacity"`
	ReplayRecent   bool          `mapstructure:"replay_recent" yaml:"replay_recent"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
}

type SimulationConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Seed     uint64        `mapstructure:"seed" yaml:"seed"`
}

type AuthConfig struct {
	AccessTokenSecret string `mapstructure:"access_token_secret" yaml:"access_token_secret"`
}

// Enabled reports whether bearer tokens are required on gated routes.
func (a AuthConfig) Enabled() bool {
	return a.AccessTokenSecret != ""
}

type NotifyConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Server      string        `mapstructure:"server" yaml:"server"`
	Topic       string        `mapstructure:"topic" yaml:"topic"`
	Priority    string        `mapstructure:"priority" yaml:"priority"`
	Tags        string        `mapstructure:"tags" yaml:"tags"`
	Token       string        `mapstructure:"token" yaml:"token"`
	OutageAfter time.Duration `mapstructure:"outage_after" yaml:"outage_after"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Directory string `mapstructure:"directory" yaml:"directory"`
	Level     string `mapstructure:"level" yaml:"level"`
}

// DefaultArchiveTopics are fetched from the static archive at startup.
var DefaultArchiveTopics = []string{
	"ExtrapolatedClock", "TopThree", "TimingStats", "TimingAppData",
	"WeatherData", "TrackStatus", "SessionStatus", "DriverList",
	"RaceControlMessages", "SessionInfo", "SessionData", "LapCount",
	"TimingData", "TeamRadio", "PitLaneTimeCollection", "ChampionshipPrediction",
}

// DefaultSubscribeTopics are requested from the live stream.
var DefaultSubscribeTopics = []string{
	"Heartbeat", "CarData.z", "Position.z", "ExtrapolatedClock",
	"TopThree", "RcmSeries", "TimingStats", "TimingAppData",
	"WeatherData", "TrackStatus", "SessionStatus", "DriverList",
	"RaceControlMessages", "SessionInfo", "SessionData", "LapCount",
	"TimingData", "TeamRadio", "PitLaneTimeCollection",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.queue_size", 1024)

	v.SetDefault("upstream.enabled", true)
	v.SetDefault("upstream.base_url", "https://livetiming.formula1.com")
	v.SetDefault("upstream.topics", DefaultSubscribeTopics)
	v.SetDefault("upstream.reconnect_delay", 5*time.Second)
	v.SetDefault("upstream.handshake_retry_delay", 30*time.Second)
	v.SetDefault("upstream.read_timeout", 60*time.Second)
	v.SetDefault("upstream.handshake_timeout", 15*time.Second)
	v.SetDefault("upstream.negotiate_timeout", 15*time.Second)

	v.SetDefault("bootstrap.enabled", true)
	v.SetDefault("bootstrap.base_url", "https://livetiming.formula1.com")
	v.SetDefault("bootstrap.session_path", "")
	v.SetDefault("bootstrap.topics", DefaultArchiveTopics)
	v.SetDefault("bootstrap.workers", 4)
	v.SetDefault("bootstrap.rate_per_second", 8)
	v.SetDefault("bootstrap.timeout", 30*time.Second)
	v.SetDefault("bootstrap.retry_count", 3)
	v.SetDefault("bootstrap.retry_delay", 2*time.Second)

	v.SetDefault("broadcast.recent_capacity", 100)
	v.SetDefault("broadcast.replay_recent", false)
	v.SetDefault("broadcast.send_buffer", 256)
	v.SetDefault("broadcast.keep_alive", 30*time.Second)

	v.SetDefault("simulation.enabled", false)
	v.SetDefault("simulation.interval", 500*time.Millisecond)
	v.SetDefault("simulation.seed", 0)

	v.SetDefault("auth.access_token_secret", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "checkered_flag")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.outage_after", 2*time.Minute)

	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Legacy names used by existing deployments
	_ = v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")
	_ = v.BindEnv("simulation.enabled", "RELAY_SIMULATION_ENABLED", "SIMULATE")
	_ = v.BindEnv("auth.access_token_secret", "RELAY_AUTH_ACCESS_TOKEN_SECRET", "ACCESS_TOKEN_SECRET")
	_ = v.BindEnv("notify.token", "RELAY_NOTIFY_TOKEN", "NTFY_TOKEN")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
