package fetcher

import (
	"errors"
	"io"
	"sync"

	"github.com/any-hub/asset-cache/internal/cache"
	"github.com/any-hub/asset-cache/internal/metrics"
)

var errClosedEarly = errors.New("stream closed before end of body")

// teeReader 把调用方读到的每个字节同步追加到缓存写入句柄。读到 io.EOF 时提交，
// 读错误或提前 Close 时放弃，保证缓存里只出现完整下载的正文。
// 缓存写入失败只会让本次调用退化为纯网络流，不影响调用方读取。
type teeReader struct {
	src    io.Reader
	writer *cache.Writer
	done   func(outcome string, entry *cache.Entry, err error)

	mu       sync.Mutex
	finished bool
}

func newTeeReader(src io.Reader, writer *cache.Writer, done func(string, *cache.Entry, error)) *teeReader {
	return &teeReader{src: src, writer: writer, done: done}
}

func (t *teeReader) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.src.Read(p)
	if n > 0 && !t.finished {
		if _, werr := t.writer.Write(p[:n]); werr != nil {
			t.abandon(werr)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		t.commit()
	default:
		t.abandon(err)
	}
	return n, err
}

// Close 在未到达 EOF 时放弃写入；返回值只反映临时文件清理是否失败。
func (t *teeReader) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abandon(errClosedEarly)
}

func (t *teeReader) commit() {
	if t.finished {
		return
	}
	t.finished = true

	entry, err := t.writer.Commit()
	switch {
	case err == nil:
		t.report(metrics.CommitCommitted, entry, nil)
	case errors.Is(err, cache.ErrCacheUnavailable):
		t.report(metrics.CommitUnavailable, nil, err)
	default:
		t.report(metrics.CommitAbandoned, nil, err)
	}
}

func (t *teeReader) abandon(cause error) error {
	if t.finished {
		return nil
	}
	t.finished = true

	err := t.writer.Abort()
	t.report(metrics.CommitAbandoned, nil, cause)
	return err
}

func (t *teeReader) report(outcome string, entry *cache.Entry, err error) {
	if t.done != nil {
		t.done(outcome, entry, err)
	}
}
