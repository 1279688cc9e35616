package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// EnvDataDir 数据目录环境变量名
	EnvDataDir = "CONTEXTENGINE_DATA_DIR"
	// DefaultDataDirName 默认数据目录名，位于用户主目录下
	DefaultDataDirName = ".contextengine"
)

var (
	dataDirOnce sync.Once
	dataDirPath string
)

// GetDataDir 返回数据根目录，首次调用后缓存
// CONTEXTENGINE_DATA_DIR 优先；取不到主目录时退回当前目录下的 .contextengine
func GetDataDir() string {
	dataDirOnce.Do(func() {
		dataDirPath = resolveDataDir()
	})
	return dataDirPath
}

func resolveDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return filepath.Clean(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

// DataPath 拼接数据目录下的路径
func DataPath(elem ...string) string {
	return filepath.Join(append([]string{GetDataDir()}, elem...)...)
}

// EnsureDataDir 创建数据目录（仅所有者可访问）并返回路径
func EnsureDataDir() (string, error) {
	dir := GetDataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// ResetDataDir 重置数据目录缓存（仅用于测试）
func ResetDataDir() {
	dataDirOnce = sync.Once{}
	dataDirPath = ""
}
