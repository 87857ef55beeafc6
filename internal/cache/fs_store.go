package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，同一目录可被多个实例/进程共享。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache directory required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

// fileStore 不持有任何进程内锁，正确性完全依赖 rename 的原子性。
type fileStore struct {
	basePath string
}

// metadata 是 <hash>.meta 侧车文件的内容。
type metadata struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	StoredAt    time.Time `json:"stored_at"`
}

func (s *fileStore) Dir() string {
	return s.basePath
}

func (s *fileStore) Has(ctx context.Context, key string) bool {
	if key == "" || ctx.Err() != nil {
		return false
	}
	info, err := os.Stat(s.entryPath(key))
	return err == nil && info.Mode().IsRegular()
}

func (s *fileStore) Open(ctx context.Context, key string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNotFound
	}

	filePath := s.entryPath(key)
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// 先 Open 再对 fd 做 Stat，避免与并发 rename 之间出现大小不一致。
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	entry := Entry{
		Key:         key,
		FilePath:    filePath,
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime(),
		ContentType: s.readContentType(key),
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) BeginWrite(ctx context.Context, key string, opts WriteOptions) (*Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New("cache key required")
	}

	tempFile, err := os.CreateTemp(s.basePath, tempPattern(key))
	if errors.Is(err, fs.ErrNotExist) {
		// 目录在运行期间被外部删除，重建后重试一次。
		if mkErr := os.MkdirAll(s.basePath, 0o755); mkErr == nil {
			tempFile, err = os.CreateTemp(s.basePath, tempPattern(key))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return &Writer{
		store:     s,
		key:       key,
		opts:      opts,
		file:      tempFile,
		tempName:  tempFile.Name(),
		finalPath: s.entryPath(key),
	}, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return os.MkdirAll(s.basePath, 0o755)
		}
		return err
	}

	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !isManagedName(entry.Name()) {
			continue
		}
		err := os.Remove(filepath.Join(s.basePath, entry.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *fileStore) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !isTempName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *fileStore) entryPath(key string) string {
	return filepath.Join(s.basePath, entryName(key))
}

func (s *fileStore) metaPath(key string) string {
	return filepath.Join(s.basePath, metaName(key))
}

// readContentType 读取侧车文件；缺失或损坏时返回空串。
func (s *fileStore) readContentType(key string) string {
	raw, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return ""
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil || meta.Key != key {
		return ""
	}
	return meta.ContentType
}

// writeMeta 通过临时文件 + rename 写入侧车；ContentType 为空时删除旧侧车。
func (s *fileStore) writeMeta(key string, opts WriteOptions) error {
	metaPath := s.metaPath(key)
	if opts.ContentType == "" {
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	raw, err := json.Marshal(metadata{
		Key:         key,
		ContentType: opts.ContentType,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.basePath, tempPattern(key))
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, metaPath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
