package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/mkmik/multierror"
)

// Writer 是一次 BeginWrite 分配的写入句柄。字节先写入临时文件，Commit 时
// 原子 rename 到最终路径；Abort 删除临时文件。两者只有第一次调用生效。
type Writer struct {
	store     *fileStore
	key       string
	opts      WriteOptions
	file      *os.File
	tempName  string
	finalPath string

	mu      sync.Mutex
	written int64
	done    bool
}

// Write 追加正文字节。
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return 0, ErrWriterClosed
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

// Commit 关闭临时文件并 rename 到最终路径。同 key 的并发提交互相覆盖，
// 最后一次 rename 生效。临时文件在提交前被 Clear 删除时返回 ErrCacheUnavailable。
// 侧车在正文 rename 之后写入，失败时条目仍然有效，只是没有内容类型。
func (w *Writer) Commit() (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil, ErrWriterClosed
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tempName)
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tempName)
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if _, err := os.Stat(w.tempName); err != nil {
		return nil, unavailable(w.key, err)
	}

	if err := os.Rename(w.tempName, w.finalPath); err != nil {
		os.Remove(w.tempName)
		return nil, unavailable(w.key, err)
	}

	contentType := w.opts.ContentType
	if err := w.store.writeMeta(w.key, w.opts); err != nil {
		contentType = ""
	}

	// 临时文件的 mtime 保持为写入时间，避免被 Sweep 误判为过期。
	modTime := w.opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	} else {
		_ = os.Chtimes(w.finalPath, modTime, modTime)
	}

	return &Entry{
		Key:         w.key,
		FilePath:    w.finalPath,
		SizeBytes:   w.written,
		ModTime:     modTime,
		ContentType: contentType,
	}, nil
}

// Abort 放弃写入并删除临时文件，不会创建或修改任何条目。重复调用返回 nil。
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done {
		return nil
	}
	w.done = true

	var errs error
	if err := w.file.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := os.Remove(w.tempName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func unavailable(key string, err error) error {
	return fmt.Errorf("%w: commit %s: %v", ErrCacheUnavailable, entryName(key), err)
}
