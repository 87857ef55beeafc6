package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config 是 TOML 文件映射的整体结构，启动时构建一次后只读。
type Config struct {
	// 日志
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// 缓存
	CacheDir        string   `mapstructure:"CacheDir"`
	CacheEnabled    bool     `mapstructure:"CacheEnabled"`
	TempGracePeriod Duration `mapstructure:"TempGracePeriod"`

	// 上游抓取
	Timeout        Duration `mapstructure:"Timeout"`
	ConnectTimeout Duration `mapstructure:"ConnectTimeout"`
	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`
	UserAgent      string   `mapstructure:"UserAgent"`

	// 本地 HTTP 服务
	ListenPort int `mapstructure:"ListenPort"`
}

// CacheMode 输出 `enabled` 或 `disabled`，供日志字段使用。
func (c *Config) CacheMode() string {
	if c.CacheEnabled {
		return "enabled"
	}
	return "disabled"
}
