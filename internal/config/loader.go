package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/asset-cache/internal/version"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheDir = absCache

	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，供 CLI 在未提供文件时使用。
func Default() *Config {
	cfg := &Config{
		LogLevel:      "info",
		LogMaxSize:    100,
		LogMaxBackups: 10,
		LogCompress:   true,
		CacheDir:      "./cache",
		CacheEnabled:  true,
		ListenPort:    5000,
	}
	applyDefaults(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./cache")
	v.SetDefault("CacheEnabled", true)
	v.SetDefault("TempGracePeriod", "1h")
	v.SetDefault("Timeout", "10s")
	v.SetDefault("ConnectTimeout", "10s")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UserAgent", "")
	v.SetDefault("ListenPort", 5000)
}

func applyDefaults(c *Config) {
	if c.ListenPort == 0 {
		c.ListenPort = 5000
	}
	if c.Timeout.DurationValue() == 0 {
		c.Timeout = Duration(10 * time.Second)
	}
	if c.ConnectTimeout.DurationValue() == 0 {
		c.ConnectTimeout = Duration(10 * time.Second)
	}
	if c.InitialBackoff.DurationValue() == 0 {
		c.InitialBackoff = Duration(time.Second)
	}
	if c.TempGracePeriod.DurationValue() == 0 {
		c.TempGracePeriod = Duration(time.Hour)
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = version.UserAgent()
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
