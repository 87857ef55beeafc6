package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-cache/internal/cache"
	"github.com/any-hub/asset-cache/internal/config"
	"github.com/any-hub/asset-cache/internal/logging"
	"github.com/any-hub/asset-cache/internal/metrics"
	"github.com/any-hub/asset-cache/internal/transport"
)

// Config 在启动时构建一次，构造 Fetcher 后不再修改。
type Config struct {
	CacheDirectory string
	CacheEnabled   bool

	// 以下字段只在 Network 为空、需要构建默认 HTTP 实现时使用。
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	UserAgent      string

	Network transport.NetworkFetcher
	// Store 非空时替代 CacheDirectory 构建的磁盘缓存。
	Store   cache.Store
	Logger  *logrus.Logger
	Metrics *metrics.Recorder
}

// NewConfig 把文件配置映射为 Fetcher 配置，Network/Store/Logger/Metrics 由调用方补充。
func NewConfig(cfg *config.Config) Config {
	return Config{
		CacheDirectory: cfg.CacheDir,
		CacheEnabled:   cfg.CacheEnabled,
		Timeout:        cfg.Timeout.DurationValue(),
		ConnectTimeout: cfg.ConnectTimeout.DurationValue(),
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.DurationValue(),
		UserAgent:      cfg.UserAgent,
	}
}

// Fetcher 负责 orchestrate “缓存命中 → 回源 → 边读边写缓存” 的全流程。
// Fetch 在调用方的 goroutine 上同步执行阻塞 I/O，本身不维护任何 worker。
type Fetcher struct {
	network  transport.NetworkFetcher
	store    cache.Store
	logger   *logrus.Entry
	recorder *metrics.Recorder
}

// New 根据配置构建 Fetcher。缓存关闭时不会创建或触碰缓存目录。
func New(cfg Config) (*Fetcher, error) {
	network := cfg.Network
	if network == nil {
		network = transport.NewHTTPFetcher(transport.Options{
			Timeout:        cfg.Timeout,
			ConnectTimeout: cfg.ConnectTimeout,
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			UserAgent:      cfg.UserAgent,
			Logger:         cfg.Logger,
		})
	}

	var store cache.Store
	if cfg.CacheEnabled {
		store = cfg.Store
		if store == nil {
			if cfg.CacheDirectory == "" {
				return nil, errors.New("cache directory required when caching is enabled")
			}
			created, err := cache.NewStore(cfg.CacheDirectory)
			if err != nil {
				return nil, err
			}
			store = created
		}
	}

	return &Fetcher{
		network:  network,
		store:    store,
		logger:   logging.WithComponent(cfg.Logger, "fetcher"),
		recorder: cfg.Metrics,
	}, nil
}

// CacheEnabled 表示当前实例是否读写磁盘缓存。
func (f *Fetcher) CacheEnabled() bool {
	return f.store != nil
}

// Store 返回底层缓存；缓存关闭时为 nil。
func (f *Fetcher) Store() cache.Store {
	return f.store
}

// Fetch 返回 key 对应的资源。失败以 Success=false + ErrorMessage 表达，不返回 error；
// 调用方必须 Close 返回值。
func (f *Fetcher) Fetch(ctx context.Context, key string) *Result {
	return f.FetchNamed(ctx, key, "")
}

// FetchNamed 与 Fetch 相同，但 cacheName 非空时以它作为缓存条目的 key，
// 使同一资源的不同地址（例如带签名参数的 URL）共享一个条目。
func (f *Fetcher) FetchNamed(ctx context.Context, key, cacheName string) *Result {
	started := time.Now()
	if key == "" {
		return f.fail(key, "resource key required", started)
	}
	cacheKey := key
	if cacheName != "" {
		cacheKey = cacheName
	}

	if f.store != nil && f.store.Has(ctx, cacheKey) {
		cached, err := f.store.Open(ctx, cacheKey)
		switch {
		case err == nil:
			return f.cacheResult(key, cached, started)
		case errors.Is(err, cache.ErrNotFound):
			// cleared between Has and Open, fall back to network
		default:
			f.logger.WithFields(logging.FetchFields(key, false, "cache")).
				WithError(err).Warn("cache_open_failed")
		}
	}

	raw, err := f.network.FetchSync(ctx, key)
	if err != nil {
		return f.fail(key, err.Error(), started)
	}
	if raw == nil {
		return f.fail(key, fmt.Sprintf("Unable to fetch %s. Empty response", key), started)
	}

	if !raw.Successful() {
		message := raw.ErrorBody
		if message == "" {
			message = fmt.Sprintf("Unable to fetch %s. Failed with %d", key, raw.StatusCode)
		}
		f.releaseRaw(key, raw)
		return f.fail(key, message, started)
	}
	if raw.Body == nil {
		f.releaseRaw(key, raw)
		return f.fail(key, fmt.Sprintf("Unable to fetch %s. Response has no body", key), started)
	}

	if f.store == nil {
		f.recorder.ObserveFetch(metrics.ResultBypass)
		f.logComplete(key, false, "network", started)
		return f.networkResult(key, cacheKey, raw, nil)
	}

	writer, err := f.store.BeginWrite(ctx, cacheKey, cache.WriteOptions{ContentType: raw.ContentType})
	if err != nil {
		f.recorder.ObserveCommit(metrics.CommitUnavailable)
		f.logger.WithFields(logging.CacheFields("cache_unavailable", f.store.Dir(), cacheKey)).
			WithError(err).Warn("cache_write_skipped")
		writer = nil
	}

	f.recorder.ObserveFetch(metrics.ResultMiss)
	f.logComplete(key, false, "network", started)
	return f.networkResult(key, cacheKey, raw, writer)
}

// Clear 清空磁盘缓存；缓存关闭时为空操作。
func (f *Fetcher) Clear(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	if err := f.store.Clear(ctx); err != nil {
		return err
	}
	f.logger.WithFields(logging.CacheFields("cache_clear", f.store.Dir(), "")).Info("cache_cleared")
	return nil
}

// Sweep 清理过期的临时文件，通常在启动时调用一次。
func (f *Fetcher) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	if f.store == nil {
		return 0, nil
	}
	removed, err := f.store.Sweep(ctx, olderThan)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		fields := logging.CacheFields("cache_sweep", f.store.Dir(), "")
		fields["removed"] = removed
		f.logger.WithFields(fields).Info("temp_files_swept")
	}
	return removed, nil
}

func (f *Fetcher) cacheResult(key string, cached *cache.ReadResult, started time.Time) *Result {
	f.recorder.ObserveFetch(metrics.ResultHit)
	f.logComplete(key, true, "cache", started)
	return &Result{
		Success:     true,
		ContentType: cached.Entry.ContentType,
		CacheHit:    true,
		key:         key,
		body:        cached.Reader,
		closers:     []func() error{cached.Reader.Close},
		logger:      f.logger,
		recorder:    f.recorder,
	}
}

// networkResult 组装网络结果。writer 非空时正文经 teeReader 同步写入缓存。
// 关闭顺序：先关网络 Body 以打断阻塞中的 Read，再放弃未完成的写入，最后释放传输资源。
func (f *Fetcher) networkResult(key, cacheKey string, raw *transport.RawResult, writer *cache.Writer) *Result {
	res := &Result{
		Success:     true,
		ContentType: raw.ContentType,
		key:         key,
		body:        raw.Body,
		logger:      f.logger,
		recorder:    f.recorder,
	}
	res.closers = append(res.closers, raw.Body.Close)

	if writer != nil {
		tee := newTeeReader(raw.Body, writer, func(outcome string, entry *cache.Entry, err error) {
			f.reportWrite(cacheKey, outcome, entry, err)
		})
		res.body = tee
		res.closers = append(res.closers, tee.Close)
	}
	if raw.Release != nil {
		res.closers = append(res.closers, raw.Release)
	}
	return res
}

func (f *Fetcher) reportWrite(key, outcome string, entry *cache.Entry, err error) {
	f.recorder.ObserveCommit(outcome)

	fields := logging.CacheFields("cache_write", f.store.Dir(), key)
	fields["outcome"] = outcome
	switch outcome {
	case metrics.CommitCommitted:
		fields["size_bytes"] = entry.SizeBytes
		f.logger.WithFields(fields).Debug("cache_committed")
	case metrics.CommitUnavailable:
		f.logger.WithFields(fields).WithError(err).Warn("cache_unavailable")
	default:
		f.logger.WithFields(fields).WithError(err).Info("cache_abandoned")
	}
}

// releaseRaw 释放失败响应持有的资源，错误只记录。
func (f *Fetcher) releaseRaw(key string, raw *transport.RawResult) {
	res := &Result{key: key, logger: f.logger}
	if raw.Body != nil {
		res.closers = append(res.closers, raw.Body.Close)
	}
	if raw.Release != nil {
		res.closers = append(res.closers, raw.Release)
	}
	res.Close()
}

func (f *Fetcher) fail(key, message string, started time.Time) *Result {
	f.recorder.ObserveFetch(metrics.ResultFailure)
	fields := logging.FetchFields(key, false, "network")
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["error"] = message
	f.logger.WithFields(fields).Error("fetch_failed")
	return failureResult(key, message, f.logger)
}

func (f *Fetcher) logComplete(key string, cacheHit bool, source string, started time.Time) {
	fields := logging.FetchFields(key, cacheHit, source)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	f.logger.WithFields(fields).Info("fetch_complete")
}
