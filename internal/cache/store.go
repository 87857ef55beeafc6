package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDir>/<sha256(key)>                          # 实际正文
//	<CacheDir>/<sha256(key)>.meta                     # Content-Type 等元数据（可选）
//	<CacheDir>/.cache-<sha256(key)>-<rand>.temp       # 写入中的临时文件
//
// 条目只有在正文文件通过 rename 落位后才可见，所有方法均可并发调用。
type Store interface {
	// Has 判断 key 是否存在已完成的缓存条目。
	Has(ctx context.Context, key string) bool

	// Open 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Open(ctx context.Context, key string) (*ReadResult, error)

	// BeginWrite 分配临时文件并返回写入句柄。Commit 时原子 rename 到最终路径，
	// Abort 时删除临时文件且不产生任何条目。目录不可用时返回 ErrCacheUnavailable。
	BeginWrite(ctx context.Context, key string, opts WriteOptions) (*Writer, error)

	// Clear 删除所有条目（包括写入中的临时文件），随后重建空目录。
	Clear(ctx context.Context) error

	// Sweep 清理 mtime 早于 olderThan 的临时文件，返回删除数量。
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)

	// Dir 返回缓存目录的绝对路径。
	Dir() string
}

// WriteOptions 控制写入过程中的可选属性。
type WriteOptions struct {
	ContentType string
	ModTime     time.Time
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Key         string    `json:"key"`
	FilePath    string    `json:"file_path"`
	SizeBytes   int64     `json:"size_bytes"`
	ModTime     time.Time `json:"mod_time"`
	ContentType string    `json:"content_type,omitempty"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrCacheUnavailable 表示缓存目录缺失、不可写或正在被清空。
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrWriterClosed 表示写入句柄已经提交或放弃。
	ErrWriterClosed = errors.New("cache writer already finished")
)
