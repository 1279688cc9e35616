package token

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// EncodingName 固定使用的编码，计数结果随编码版本确定
const EncodingName = "cl100k_base"

// 在包初始化时设置离线加载器
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Accountant 基于 tiktoken 的 Token 计数器
type Accountant struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	accountantInstance *Accountant
	accountantOnce     sync.Once
	accountantErr      error
)

// GetAccountant 获取 Accountant 单例
// 编码文件只加载一次
func GetAccountant() (*Accountant, error) {
	accountantOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(EncodingName)
		if err != nil {
			accountantErr = err
			return
		}
		accountantInstance = &Accountant{
			encoding: enc,
		}
	})

	if accountantErr != nil {
		return nil, accountantErr
	}
	return accountantInstance, nil
}

// CountTokens 计算文本的 Token 数量
func (a *Accountant) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.encoding.Encode(text, nil, nil))
}

// CountTokensBatch 计算多个文本的 Token 总数
func (a *Accountant) CountTokensBatch(texts []string) int {
	total := 0
	for _, text := range texts {
		total += a.CountTokens(text)
	}
	return total
}

// Encoding 返回编码名称
func (a *Accountant) Encoding() string {
	return EncodingName
}
