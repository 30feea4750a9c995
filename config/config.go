// Package config holds the enumerated server configuration and loads it
// from defaults, an optional YAML file, and WEBSERV_* env overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is every knob the server takes. Trigger mode packs two bits:
// bit0 switches connections to edge trigger, bit1 the listener.
type Config struct {
	ListenPort    int  `mapstructure:"listen_port"`
	TriggerMode   int  `mapstructure:"trigger_mode"` // 0..3
	IdleTimeoutMs int  `mapstructure:"idle_timeout_ms"`
	SoLinger      bool `mapstructure:"so_linger"`

	SrcDir string `mapstructure:"src_dir"`

	SQLHost     string `mapstructure:"sql_host"`
	SQLPort     int    `mapstructure:"sql_port"`
	SQLUser     string `mapstructure:"sql_user"`
	SQLPwd      string `mapstructure:"sql_pwd"`
	SQLDb       string `mapstructure:"sql_db"`
	SQLPoolSize int    `mapstructure:"sql_pool_size"`

	WorkerThreads int `mapstructure:"worker_threads"`

	LogEnabled       bool   `mapstructure:"log_enabled"`
	LogLevel         int    `mapstructure:"log_level"` // 0..3
	LogQueueCapacity int    `mapstructure:"log_queue_capacity"`
	LogDir           string `mapstructure:"log_dir"`
	LogSuffix        string `mapstructure:"log_suffix"`
}

// ConnET reports whether connection sockets use edge trigger.
func (c Config) ConnET() bool { return c.TriggerMode&1 != 0 }

// ListenET reports whether the listener uses edge trigger.
func (c Config) ListenET() bool { return c.TriggerMode&2 != 0 }

func Default() Config {
	return Config{
		ListenPort:       1316,
		TriggerMode:      3,
		IdleTimeoutMs:    60000,
		SoLinger:         false,
		SrcDir:           "./resources",
		SQLHost:          "localhost",
		SQLPort:          3306,
		SQLUser:          "root",
		SQLPwd:           "root",
		SQLDb:            "webserv",
		SQLPoolSize:      12,
		WorkerThreads:    8,
		LogEnabled:       true,
		LogLevel:         1,
		LogQueueCapacity: 1024,
		LogDir:           "./log",
		LogSuffix:        ".log",
	}
}

// Load reads path (optional, YAML) over the defaults, then applies
// WEBSERV_* environment overrides, e.g. WEBSERV_LISTEN_PORT=8080.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("listen_port", def.ListenPort)
	v.SetDefault("trigger_mode", def.TriggerMode)
	v.SetDefault("idle_timeout_ms", def.IdleTimeoutMs)
	v.SetDefault("so_linger", def.SoLinger)
	v.SetDefault("src_dir", def.SrcDir)
	v.SetDefault("sql_host", def.SQLHost)
	v.SetDefault("sql_port", def.SQLPort)
	v.SetDefault("sql_user", def.SQLUser)
	v.SetDefault("sql_pwd", def.SQLPwd)
	v.SetDefault("sql_db", def.SQLDb)
	v.SetDefault("sql_pool_size", def.SQLPoolSize)
	v.SetDefault("worker_threads", def.WorkerThreads)
	v.SetDefault("log_enabled", def.LogEnabled)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_queue_capacity", def.LogQueueCapacity)
	v.SetDefault("log_dir", def.LogDir)
	v.SetDefault("log_suffix", def.LogSuffix)

	v.SetEnvPrefix("webserv")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return errors.New("listen_port out of range")
	}
	if c.TriggerMode < 0 || c.TriggerMode > 3 {
		return errors.New("trigger_mode must be 0..3")
	}
	if c.LogLevel < 0 || c.LogLevel > 3 {
		return errors.New("log_level must be 0..3")
	}
	if c.WorkerThreads <= 0 {
		return errors.New("worker_threads must be positive")
	}
	return nil
}
