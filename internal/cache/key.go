package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	metaSuffix = ".meta"
	tempPrefix = ".cache-"
	tempSuffix = ".temp"
)

// entryName 把任意 key 映射为文件系统安全的定长文件名。
func entryName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func metaName(key string) string {
	return entryName(key) + metaSuffix
}

// tempPattern 供 os.CreateTemp 使用，"*" 会被替换为随机串。
func tempPattern(key string) string {
	return tempPrefix + entryName(key) + "-*" + tempSuffix
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// isManagedName 判断目录项是否由本包创建（正文、侧车或临时文件）。
func isManagedName(name string) bool {
	if isTempName(name) {
		return true
	}
	name = strings.TrimSuffix(name, metaSuffix)
	if len(name) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}
