package fetcher

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mkmik/multierror"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-cache/internal/metrics"
)

// ErrStreamRelease 包装 Close 过程中释放资源失败的错误，只记录不向上抛出。
var ErrStreamRelease = errors.New("stream release failed")

// Result 是一次 Fetch 的结果句柄，调用方拥有它并必须在所有路径上 Close。
// 失败的 Result 读取时直接返回 io.EOF。
type Result struct {
	Success      bool
	ContentType  string
	ErrorMessage string
	CacheHit     bool

	key      string
	body     io.Reader
	closers  []func() error
	logger   *logrus.Entry
	recorder *metrics.Recorder

	once       sync.Once
	releaseErr error
}

func failureResult(key, message string, logger *logrus.Entry) *Result {
	return &Result{
		Success:      false,
		ErrorMessage: message,
		key:          key,
		logger:       logger,
	}
}

// Read 从缓存文件或网络流中读取正文。
func (r *Result) Read(p []byte) (int, error) {
	if r.body == nil {
		return 0, io.EOF
	}
	n, err := r.body.Read(p)
	r.recorder.ObserveBytes(r.source(), int64(n))
	return n, err
}

// Close 释放正文流与传输层资源。多次调用只生效一次；任一释放步骤失败不会阻止
// 后续步骤，失败会合并记录为 ErrStreamRelease 日志，Close 本身始终返回 nil。
func (r *Result) Close() error {
	r.once.Do(func() {
		var errs error
		for _, closeFn := range r.closers {
			if err := closeFn(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if errs == nil {
			return
		}
		r.releaseErr = fmt.Errorf("%w: %v", ErrStreamRelease, errs)
		r.logger.WithFields(logrus.Fields{
			"action": "release",
			"key":    r.key,
			"source": r.source(),
		}).WithError(r.releaseErr).Warn("release_failed")
	})
	return nil
}

// ReleaseErr 返回 Close 期间被吞掉的释放错误，主要用于诊断。
func (r *Result) ReleaseErr() error {
	return r.releaseErr
}

func (r *Result) source() string {
	if r.CacheHit {
		return "cache"
	}
	return "network"
}
