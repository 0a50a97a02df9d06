package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	Presence PresenceConfig `mapstructure:"presence"`
	Store    StoreConfig    `mapstructure:"store"`
	LiveKit  LiveKitConfig  `mapstructure:"livekit"`
	Agent    AgentConfig    `mapstructure:"agent"`
}

// PresenceConfig is the server-side lease surface.
type PresenceConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	// PostgresDSN selects the durable store; empty means in-memory.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type LiveKitConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	RoomPrefix string        `mapstructure:"room_prefix"`
}

// AgentConfig configures the device-side binary.
type AgentConfig struct {
	ServerURL   string       `mapstructure:"server_url"`
	DeviceID    string       `mapstructure:"device_id"`
	GroupID     string       `mapstructure:"group_id"`
	DisplayName string       `mapstructure:"display_name"`
	STUNServers []string     `mapstructure:"stun_servers"`
	Motion      MotionConfig `mapstructure:"motion"`
}

type MotionConfig struct {
	SampleInterval    time.Duration `mapstructure:"sample_interval"`
	LocalTimeout      time.Duration `mapstructure:"local_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PixelThreshold    uint8         `mapstructure:"pixel_threshold"`
	FrameWidth        int           `mapstructure:"frame_width"`
	FrameHeight       int           `mapstructure:"frame_height"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("HEARTHLINK")
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("presence.ttl", "30s")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("livekit.token_ttl", "1h")
	v.SetDefault("livekit.room_prefix", "hearth-")
	v.SetDefault("agent.server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("agent.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("agent.motion.sample_interval", "100ms")
	v.SetDefault("agent.motion.local_timeout", "10s")
	v.SetDefault("agent.motion.heartbeat_interval", "15s")
	v.SetDefault("agent.motion.pixel_threshold", 32)
	v.SetDefault("agent.motion.frame_width", 64)
	v.SetDefault("agent.motion.frame_height", 48)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
