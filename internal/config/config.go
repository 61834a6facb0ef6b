package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "NOTEGRID"

type Config struct {
	DBPath  string        `mapstructure:"db_path"`
	Storage StorageConfig `mapstructure:"storage"`
	Web     WebConfig     `mapstructure:"web"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=sqlite redis"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"min=0"`
}

type WebConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`
}

type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"min=1"`
}

type SyncConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	File   string `mapstructure:"file"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "sqlite"},
		Web:     WebConfig{Port: 8080},
		Remote: RemoteConfig{
			BaseURL:           "https://notegrid.pages.dev",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Sync: SyncConfig{
			Debounce:     300 * time.Millisecond,
			PollInterval: 60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func DefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "notegrid", "config.json"), nil
}

func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// Load reads the config file at path, if present, and applies NOTEGRID_*
// environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v, cfg)

	return v.WriteConfigAs(path)
}

func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("db_path", cfg.DBPath)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.redis_addr", cfg.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", cfg.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", cfg.Storage.RedisDB)

	v.SetDefault("web.enabled", cfg.Web.Enabled)
	v.SetDefault("web.port", cfg.Web.Port)

	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.timeout", cfg.Remote.Timeout.String())
	v.SetDefault("remote.requests_per_second", cfg.Remote.RequestsPerSecond)
	v.SetDefault("remote.burst", cfg.Remote.Burst)

	v.SetDefault("sync.debounce", cfg.Sync.Debounce.String())
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval.String())

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
}
