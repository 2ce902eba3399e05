package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"companionsync/internal/config"
)

const (
	defaultEnv        = config.EnvLocal
	defaultConfigDir  = ".companionsync"
	defaultListenAddr = ":7345"
	defaultGroup      = "default"
	defaultCipher     = "xchacha20poly1305"
	defaultPolicy     = "timestamp"
)

type Config struct {
	Env       string
	ConfigDir string
	DataPath  string
	KeyPath   string
	LogFile   string

	RelayURL       string
	RelayToken     string
	RelayPoll      time.Duration
	ListenAddr     string
	LANPeers       []string
	SyncGroup      string
	Cipher         string
	DisableLAN     bool
	DisableRelay   bool
	ConflictPolicy string

	Debounce           time.Duration
	ConnectTimeout     time.Duration
	TransferTimeout    time.Duration
	DiscoveryTimeout   time.Duration
	MaxConcurrent      int
	BackgroundInterval time.Duration
	Retention          time.Duration

	NetworkMetered bool
	BatteryLevel   int

	// Passive задается командой, а не окружением: не принимать входящие соединения
	Passive bool
}

// Load читает настройки клиента: .env, переменные окружения, затем файл file (если задан)
func Load(v *viper.Viper, file string) (*Config, error) {
	for _, envPath := range []string{".env", "../.env"} {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				log.Printf("failed to load %s: %v", envPath, err)
			}
			break
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("config_dir", "")
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("sync_group", defaultGroup)
	v.SetDefault("cipher", defaultCipher)
	v.SetDefault("conflict_policy", defaultPolicy)
	v.SetDefault("relay_poll_ms", 1000)
	v.SetDefault("debounce_ms", 2000)
	v.SetDefault("connect_timeout_seconds", 30)
	v.SetDefault("transfer_timeout_seconds", 120)
	v.SetDefault("discovery_timeout_seconds", 10)
	v.SetDefault("max_concurrent_sessions", 3)
	v.SetDefault("background_interval_minutes", 360)
	v.SetDefault("retention_days", 30)
	v.SetDefault("battery_level", 100)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", file, err)
		}
	}

	configDir := v.GetString("config_dir")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configDir = filepath.Join(home, defaultConfigDir)
	}

	cfg := &Config{
		Env:            v.GetString("app_env"),
		ConfigDir:      configDir,
		DataPath:       orDefault(v.GetString("data_path"), filepath.Join(configDir, "sync.db")),
		KeyPath:        orDefault(v.GetString("key_path"), filepath.Join(configDir, "sync.key")),
		LogFile:        v.GetString("log_file"),
		RelayURL:       v.GetString("relay_url"),
		RelayToken:     v.GetString("relay_token"),
		RelayPoll:      time.Duration(v.GetInt("relay_poll_ms")) * time.Millisecond,
		ListenAddr:     v.GetString("listen_addr"),
		LANPeers:       splitList(v.GetString("lan_peers")),
		SyncGroup:      v.GetString("sync_group"),
		Cipher:         v.GetString("cipher"),
		DisableLAN:     v.GetBool("disable_lan"),
		DisableRelay:   v.GetBool("disable_relay"),
		ConflictPolicy: v.GetString("conflict_policy"),

		Debounce:           time.Duration(v.GetInt("debounce_ms")) * time.Millisecond,
		ConnectTimeout:     time.Duration(v.GetInt("connect_timeout_seconds")) * time.Second,
		TransferTimeout:    time.Duration(v.GetInt("transfer_timeout_seconds")) * time.Second,
		DiscoveryTimeout:   time.Duration(v.GetInt("discovery_timeout_seconds")) * time.Second,
		MaxConcurrent:      v.GetInt("max_concurrent_sessions"),
		BackgroundInterval: time.Duration(v.GetInt("background_interval_minutes")) * time.Minute,
		Retention:          time.Duration(v.GetInt("retention_days")) * 24 * time.Hour,

		NetworkMetered: v.GetBool("network_metered"),
		BatteryLevel:   v.GetInt("battery_level"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, nil
}

// EnsureDirs создает каталог конфигурации
func (c *Config) EnsureDirs() error {
	return os.MkdirAll(c.ConfigDir, 0o700)
}

func (c *Config) validate() error {
	if !config.Known(c.Env) {
		return fmt.Errorf("unknown APP_ENV %q", c.Env)
	}
	if c.KeyPath == "" {
		return errors.New("key_path не может быть пустым")
	}
	if c.RelayURL != "" && !strings.HasPrefix(c.RelayURL, "http://") && !strings.HasPrefix(c.RelayURL, "https://") {
		return fmt.Errorf("relay_url должен начинаться с http:// или https://: %q", c.RelayURL)
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("max_concurrent_sessions должен быть положительным")
	}
	if c.BatteryLevel < 0 || c.BatteryLevel > 100 {
		return fmt.Errorf("battery_level вне диапазона 0..100: %d", c.BatteryLevel)
	}
	return nil
}

// RelayEnabled настроен ли ретранслятор
func (c *Config) RelayEnabled() bool {
	return c.RelayURL != "" && !c.DisableRelay
}

func (c *Config) IsProd() bool {
	return c.Env == config.EnvProd
}

func (c *Config) IsDev() bool {
	return c.Env == config.EnvDev
}

func (c *Config) IsLocal() bool {
	return c.Env == config.EnvLocal || c.Env == ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MustLoad как Load, но завершает процесс при ошибке
func MustLoad(file string) *Config {
	cfg, err := Load(viper.GetViper(), file)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	return cfg
}
