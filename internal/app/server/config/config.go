package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"companionsync/internal/config"
)

const (
	defaultRunAddress = ":8080"
	defaultLogLevel   = "info"
	defaultEnv        = config.EnvLocal
)

type Config struct {
	Env    string
	DB     db
	Server server
	Logger logger
}

type db struct {
	DatabaseURI string
	Migrations  string
}

type server struct {
	RunAddress      string
	ShutdownTimeout time.Duration
}

type logger struct {
	LogLevel string
	File     string
}

// Load читает конфигурацию ретранслятора из окружения и, если задан, из файла
func Load(v *viper.Viper, file string) (*Config, error) {
	for _, envPath := range []string{".env", "../../.env"} {
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
	v.SetDefault("run_address", defaultRunAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_timeout_seconds", 10)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: db{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: time.Duration(v.GetInt("shutdown_timeout_seconds")) * time.Second,
		},
		Logger: logger{
			LogLevel: v.GetString("log_level"),
			File:     v.GetString("log_file"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad как Load, но завершает процесс при ошибке
func MustLoad(file string) *Config {
	cfg, err := Load(viper.GetViper(), file)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if !config.Known(c.Env) {
		return fmt.Errorf("unknown APP_ENV %q", c.Env)
	}
	if c.DB.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	if c.Server.RunAddress == "" {
		return errors.New("RUN_ADDRESS is required")
	}
	return nil
}

func (c *Config) IsProd() bool {
	return c.Env == config.EnvProd
}
