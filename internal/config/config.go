// Package config holds the runtime configuration: YAML file, P2PLINK_*
// environment overrides and defaults, in that order of precedence below the
// CLI flags applied by cmd/p2plink.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/1ureka/p2plink/internal/util"
)

// Role represents the side of the link this process plays.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Config is the root configuration.
type Config struct {
	Role Role `mapstructure:"role"`

	Adapter   AdapterConfig   `mapstructure:"adapter"`
	Segments  SegmentConfig   `mapstructure:"segments"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Device    DeviceConfig    `mapstructure:"device"`
	Log       LogConfig       `mapstructure:"log"`

	// ICEServers are STUN/TURN URLs; empty means host candidates only.
	ICEServers []string `mapstructure:"ice_servers"`

	// StatsInterval is the traffic report period; zero disables the report.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// AdapterConfig names the adapter in logs and connect requests.
type AdapterConfig struct {
	ID   int    `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// SegmentConfig sizes the segment pool.
type SegmentConfig struct {
	Count       int `mapstructure:"count"`
	PayloadSize int `mapstructure:"payload_size"`
}

// SignalingConfig locates the signaling server.
type SignalingConfig struct {
	Listen string `mapstructure:"listen"` // host: listen address
	URL    string `mapstructure:"url"`    // client: base URL of the host, e.g. ws://10.0.0.2:7000
}

// DeviceConfig selects the device controller. An empty Interface means the
// link has no radio to manage.
type DeviceConfig struct {
	Interface string `mapstructure:"interface"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Debug      bool   `mapstructure:"debug"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LogFile converts the rotation settings for util.SetLogFile.
func (l LogConfig) LogFile() util.LogFile {
	return util.LogFile{
		Path:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Adapter:    AdapterConfig{ID: 1, Name: "p2plink"},
		Segments:   SegmentConfig{Count: 64, PayloadSize: 512},
		Signaling:  SignalingConfig{Listen: ":0"},
		ICEServers: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		StatsInterval: 10 * time.Second,
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// p2plink.yaml in the working directory or ~/.p2plink. A missing default file
// is not an error. Environment variables use the prefix P2PLINK with "." and
// "-" replaced by "_", e.g. P2PLINK_SEGMENTS_COUNT=128.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("P2PLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("role", cfg.Role)
	v.SetDefault("adapter.id", cfg.Adapter.ID)
	v.SetDefault("adapter.name", cfg.Adapter.Name)
	v.SetDefault("segments.count", cfg.Segments.Count)
	v.SetDefault("segments.payload_size", cfg.Segments.PayloadSize)
	v.SetDefault("signaling.listen", cfg.Signaling.Listen)
	v.SetDefault("signaling.url", cfg.Signaling.URL)
	v.SetDefault("device.interface", cfg.Device.Interface)
	v.SetDefault("ice_servers", cfg.ICEServers)
	v.SetDefault("log.debug", cfg.Log.Debug)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("stats_interval", cfg.StatsInterval)

	if path == "" {
		path = os.Getenv("P2PLINK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("p2plink")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".p2plink"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Decode into a zero value; every field is covered by a default above.
	out := &Config{}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}

// Validate checks the configuration once flags have been applied.
func (c *Config) Validate() error {
	c.Role = Role(strings.ToLower(strings.TrimSpace(string(c.Role))))
	switch c.Role {
	case RoleHost, RoleClient, "":
	default:
		return fmt.Errorf("invalid role %q: must be host or client", c.Role)
	}

	if c.Segments.Count < 1 {
		return fmt.Errorf("invalid segments.count %d: must be positive", c.Segments.Count)
	}
	if c.Segments.PayloadSize < 1 {
		return fmt.Errorf("invalid segments.payload_size %d: must be positive", c.Segments.PayloadSize)
	}
	if c.Role == RoleClient && strings.TrimSpace(c.Signaling.URL) == "" {
		return errors.New("missing signaling.url for client role")
	}
	if strings.TrimSpace(c.Adapter.Name) == "" {
		c.Adapter.Name = fmt.Sprintf("adapter-%d", c.Adapter.ID)
	}
	return nil
}
