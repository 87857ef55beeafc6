package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// FetchFields 提供资源 key、缓存命中与来源字段，供抓取日志复用。
func FetchFields(key string, cacheHit bool, source string) logrus.Fields {
	return logrus.Fields{
		"action":    "fetch",
		"key":       key,
		"cache_hit": cacheHit,
		"source":    source,
	}
}

// CacheFields 描述一次缓存目录操作，entry 为空时只输出目录。
func CacheFields(action, dir, entry string) logrus.Fields {
	fields := logrus.Fields{
		"action":    action,
		"cache_dir": dir,
	}
	if entry != "" {
		fields["entry"] = entry
	}
	return fields
}
