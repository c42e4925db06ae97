package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Model      ModelConfig      `mapstructure:"model"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Doubao     DoubaoConfig     `mapstructure:"doubao"`
	Qwen       QwenConfig       `mapstructure:"qwen"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Generation GenerationConfig `mapstructure:"generation"`
	Upload     UploadConfig     `mapstructure:"upload"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelConfig 选择远程生成服务
type ModelConfig struct {
	Provider string `mapstructure:"provider"` // gemini | openai | doubao | qwen | anthropic
}

type GeminiConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DoubaoConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type QwenConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	TopP         float32       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DebugRequest bool          `mapstructure:"debug_request"`
}

type AnthropicConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// GenerationConfig 是所有 provider 共用的生成参数
type GenerationConfig struct {
	Temperature       float32 `mapstructure:"temperature"`
	SystemInstruction string  `mapstructure:"system_instruction"` // 为空时使用内置模板说明
	DebugRequest      bool    `mapstructure:"debug_request"`
}

type UploadConfig struct {
	MaxFileBytes    int64 `mapstructure:"max_file_bytes"`
	MaxRequestBytes int64 `mapstructure:"max_request_bytes"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

const (
	DefaultGeminiModel    = "gemini-3-pro-preview"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultTemperature    = float32(0.4)
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.provider", "gemini")
	v.SetDefault("gemini.model", DefaultGeminiModel)
	v.SetDefault("openai.model", DefaultOpenAIModel)
	v.SetDefault("openai.max_tokens", 2048)
	v.SetDefault("doubao.max_tokens", 2048)
	v.SetDefault("qwen.base_url", "https://dashscope.aliyuncs.com/compatible-mode/v1")
	v.SetDefault("qwen.model", "qwen-vl-max")
	v.SetDefault("qwen.max_tokens", 2048)
	v.SetDefault("qwen.top_p", 0.8)
	v.SetDefault("anthropic.model", DefaultAnthropicModel)
	v.SetDefault("anthropic.max_tokens", 2048)

	v.SetDefault("generation.temperature", DefaultTemperature)

	v.SetDefault("upload.max_file_bytes", 20<<20)
	v.SetDefault("upload.max_request_bytes", 48<<20)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cleanup_interval", 10*time.Minute)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)
}

// Load 读取配置文件；configPath 为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARCHITECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}

	return c, nil
}

// firstEnv 返回第一个非空的环境变量
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// 配置文件优先，如果配置文件中没有设置，则使用环境变量。
// 每次调用时读取，保证凭证在调用时获取。

func (c GeminiConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY")
}

func (c OpenAIConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return firstEnv("OPENAI_API_KEY")
}

func (c DoubaoConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return firstEnv("DOUBAO_API_KEY", "ARK_API_KEY")
}

func (c QwenConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return firstEnv("DASHSCOPE_API_KEY", "QWEN_API_KEY")
}

func (c AnthropicConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return firstEnv("ANTHROPIC_API_KEY")
}
