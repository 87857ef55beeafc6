package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", "无法识别的日志级别 "+c.LogLevel)
	}
	if c.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "不能为负数")
	}
	if c.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "不能为负数")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		return newFieldError("CacheDir", "不能为空")
	}
	if c.TempGracePeriod.DurationValue() < 0 {
		return newFieldError("TempGracePeriod", "不能为负数")
	}
	if c.Timeout.DurationValue() <= 0 {
		return newFieldError("Timeout", "必须大于 0")
	}
	if c.ConnectTimeout.DurationValue() <= 0 {
		return newFieldError("ConnectTimeout", "必须大于 0")
	}
	if c.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if c.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	return nil
}
