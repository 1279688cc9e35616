package rag

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
)

const (
	// ProviderConfigFileName 服务商配置文件名
	ProviderConfigFileName = "providers.json"
	// ProviderKeyFileName 凭据加密密钥文件名
	ProviderKeyFileName = ".provider_key"
)

// ConfigManager 检索增强服务商配置管理器
// 管理 Embedding、LLM 与 Qdrant 的连接信息，API Key 加密落盘
type ConfigManager struct {
	configPath string
	encryptKey *EncryptionKey
	logger     *slog.Logger
}

// NewConfigManager 在数据目录下创建配置管理器
func NewConfigManager() (*ConfigManager, error) {
	dir, err := config.EnsureDataDir()
	if err != nil {
		return nil, err
	}
	return NewConfigManagerAt(dir)
}

// NewConfigManagerAt 在指定目录创建配置管理器
func NewConfigManagerAt(dir string) (*ConfigManager, error) {
	encryptKey, err := NewEncryptionKey(filepath.Join(dir, ProviderKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption key: %w", err)
	}
	return &ConfigManager{
		configPath: filepath.Join(dir, ProviderConfigFileName),
		encryptKey: encryptKey,
		logger:     log.NewModuleLogger("rag", "config_manager"),
	}, nil
}

// APIConfig OpenAI 兼容接口配置
type APIConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"` // 加密存储
	Model  string `json:"model"`
}

// Configured 是否已配置
func (a APIConfig) Configured() bool {
	return a.URL != "" && a.Model != ""
}

// QdrantConfig Qdrant 连接配置
type QdrantConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"api_key"` // 加密存储
	UseTLS bool   `json:"use_tls"`
}

// Configured 是否已配置
func (q QdrantConfig) Configured() bool {
	return q.Host != "" && q.Port > 0
}

// ProviderConfig 服务商配置
type ProviderConfig struct {
	EmbeddingAPI APIConfig    `json:"embedding_api"`
	LLMAPI       APIConfig    `json:"llm_api"`
	Qdrant       QdrantConfig `json:"qdrant"`
}

// ReadConfig 读取配置，文件不存在时返回默认配置
func (c *ConfigManager) ReadConfig() (*ProviderConfig, error) {
	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		return c.getDefaultConfig(), nil
	}

	data, err := os.ReadFile(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProviderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 未加密的旧数据原样保留；密文损坏时清空，避免把密文当作凭据发出
	for name, key := range map[string]*string{
		"embedding_api": &cfg.EmbeddingAPI.APIKey,
		"llm_api":       &cfg.LLMAPI.APIKey,
		"qdrant":        &cfg.Qdrant.APIKey,
	} {
		if *key == "" {
			continue
		}
		decrypted, err := c.encryptKey.Decrypt(*key)
		if err != nil {
			c.logger.Warn("Discarding unreadable api key", "provider", name, "error", err)
			*key = ""
			continue
		}
		*key = decrypted
	}

	return &cfg, nil
}

// WriteConfig 写入配置
func (c *ConfigManager) WriteConfig(cfg *ProviderConfig) error {
	// 副本加密，调用方的配置保持明文
	configCopy := *cfg
	for _, key := range []*string{&configCopy.EmbeddingAPI.APIKey, &configCopy.LLMAPI.APIKey, &configCopy.Qdrant.APIKey} {
		if *key == "" {
			continue
		}
		encrypted, err := c.encryptKey.Encrypt(*key)
		if err != nil {
			return fmt.Errorf("failed to encrypt api key: %w", err)
		}
		*key = encrypted
	}

	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(configCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 获取默认配置
func (c *ConfigManager) getDefaultConfig() *ProviderConfig {
	return &ProviderConfig{
		EmbeddingAPI: APIConfig{
			Model: "text-embedding-3-small",
		},
		LLMAPI: APIConfig{
			Model: "gpt-4o-mini",
		},
		Qdrant: QdrantConfig{
			Port: 6334,
		},
	}
}

// NewProviderConfig 读取当前服务商配置
func NewProviderConfig(m *ConfigManager) (*ProviderConfig, error) {
	return m.ReadConfig()
}
