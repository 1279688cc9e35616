package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"gopkg.in/yaml.v3"
)

const (
	// EnvHTTPPort HTTP 端口环境变量名
	EnvHTTPPort = "CONTEXTENGINE_HTTP_PORT"
	// EnvConfigFile 配置文件路径环境变量名
	EnvConfigFile = "CONTEXTENGINE_CONFIG"
	// EnvDefaultContextLimit 未知模型窗口大小环境变量名
	EnvDefaultContextLimit = "CONTEXTENGINE_DEFAULT_CONTEXT_LIMIT"
	// EnvSourceBaseURL 来源链接前缀环境变量名
	EnvSourceBaseURL = "CONTEXTENGINE_SOURCE_BASE_URL"
	// ConfigFileName 默认配置文件名
	ConfigFileName = "config.yaml"
)

// Config 应用配置
type Config struct {
	Server ServerConfig       `yaml:"server"`
	Engine domain.Policy      `yaml:"engine"`
	Models []domain.ModelInfo `yaml:"models"`
	Vector VectorConfig       `yaml:"vector"`

	// path 实际使用的配置文件路径（可能不存在）
	path string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort string `yaml:"http_port"`
}

// VectorConfig 相似度检索配置
type VectorConfig struct {
	// Backend 检索后端：auto、qdrant、memory
	Backend string `yaml:"backend"`
	// Collection Qdrant 集合名
	Collection string `yaml:"collection"`
}

// 检索后端取值
const (
	VectorBackendAuto   = "auto"
	VectorBackendQdrant = "qdrant"
	VectorBackendMemory = "memory"
)

// NewConfig 创建配置
// 依次应用默认值、配置文件和环境变量，最后校验预算策略
func NewConfig() (*Config, error) {
	return Load(ConfigPath())
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: ":19970",
		},
		Engine: domain.DefaultPolicy(),
		Vector: VectorConfig{
			Backend:    VectorBackendAuto,
			Collection: "context_recall",
		},
	}
}

// Load 从指定路径加载配置，文件不存在时使用默认值
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 使用默认值
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Vector.Backend {
	case VectorBackendAuto, VectorBackendQdrant, VectorBackendMemory:
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}
	return cfg, nil
}

// applyEnv 应用环境变量覆盖
func (c *Config) applyEnv() {
	if port := os.Getenv(EnvHTTPPort); port != "" {
		c.Server.HTTPPort = port
	}
	if v := os.Getenv(EnvDefaultContextLimit); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			c.Engine.DefaultContextLimit = limit
		}
	}
	if v := os.Getenv(EnvSourceBaseURL); v != "" {
		c.Engine.SourceBaseURL = v
	}
}

// Path 返回配置文件路径
func (c *Config) Path() string {
	return c.path
}

// ConfigPath 返回配置文件路径
// 优先读取 CONTEXTENGINE_CONFIG，默认 <数据目录>/config.yaml
func ConfigPath() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	return DataPath(ConfigFileName)
}

// NewServerConfig 创建服务器配置
func NewServerConfig(cfg *Config) *ServerConfig {
	return &cfg.Server
}

// NewVectorConfig 创建检索配置
func NewVectorConfig(cfg *Config) *VectorConfig {
	return &cfg.Vector
}

// NewPolicy 返回预算策略
func NewPolicy(cfg *Config) domain.Policy {
	return cfg.Engine
}

// NewModelOverrides 返回配置中的模型列表
func NewModelOverrides(cfg *Config) []domain.ModelInfo {
	return cfg.Models
}

// LoadPolicy 重新读取配置文件中的预算策略，用于热更新
// 文件不存在时返回错误，避免把删除误当作恢复默认值
func LoadPolicy(path string) (domain.Policy, error) {
	if _, err := os.Stat(path); err != nil {
		return domain.Policy{}, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	cfg, err := Load(path)
	if err != nil {
		return domain.Policy{}, err
	}
	return cfg.Engine, nil
}
