package log

import (
	"os"
	"strconv"
	"strings"
)

// 日志环境变量，未设置时回退到去掉 CONTEXTENGINE_ 前缀的同名变量
const (
	EnvLogLevel     = "CONTEXTENGINE_LOG_LEVEL"
	EnvLogFormat    = "CONTEXTENGINE_LOG_FORMAT"
	EnvLogOutput    = "CONTEXTENGINE_LOG_OUTPUT"
	EnvLogAddSource = "CONTEXTENGINE_LOG_ADD_SOURCE"
	EnvEnvironment  = "CONTEXTENGINE_ENV"

	envPrefix = "CONTEXTENGINE_"
)

// Config 日志配置
type Config struct {
	// Level debug, info, warn, error
	Level string `json:"level"`
	// Format console 或 json
	Format string `json:"format"`
	// Output stdout 或 file:/path/to/log
	Output string `json:"output"`
	// AddSource 输出源文件位置
	AddSource bool `json:"add_source"`
}

// NewConfigFromEnv 从环境变量创建配置
// development 环境固定为 debug 级别的控制台输出
func NewConfigFromEnv() *Config {
	cfg := &Config{
		Level:     lookupEnv(EnvLogLevel, "info"),
		Format:    lookupEnv(EnvLogFormat, "console"),
		Output:    lookupEnv(EnvLogOutput, "stdout"),
		AddSource: lookupEnvBool(EnvLogAddSource, false),
	}
	if isDevelopment() {
		cfg.Level = "debug"
		cfg.Format = "console"
		cfg.AddSource = true
	}
	return cfg
}

// JSON 是否输出 JSON 格式
func (c *Config) JSON() bool {
	return strings.EqualFold(c.Format, "json")
}

func isDevelopment() bool {
	return strings.EqualFold(lookupEnv(EnvEnvironment, "production"), "development")
}

// lookupEnv 先读带前缀的变量，再读不带前缀的
func lookupEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := os.Getenv(strings.TrimPrefix(key, envPrefix)); v != "" {
		return v
	}
	return defaultValue
}

func lookupEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(lookupEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
