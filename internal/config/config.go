package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tavern/streamview/internal/render"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Render  RenderConfig
	Storage StorageConfig
	Metrics MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	renderCfg, err := loadRenderConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Render:  renderCfg,
		Storage: storage,
		Metrics: MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey              string
	AccessKey           string
	SecretKey           string
	Model               string
	BaseURL             string
	Region              string
	Temperature         *float64
	TopP                *float64
	MaxTokens           *int
	StreamResponse      bool
	EmotionLLMEnabled   bool
	EmotionHistoryLimit int
}

// RenderConfig 描述打字机渲染节奏。零值表示使用 render 包的默认值。
type RenderConfig struct {
	VisibleBatch   int
	HiddenBatch    int
	VisibleDelay   time.Duration
	HiddenDelay    time.Duration
	RevealInterval time.Duration
}

// Session 转换为 render.Session 使用的配置。
func (c RenderConfig) Session(hidden bool) render.Config {
	cfg := render.DefaultConfig()
	if c.VisibleBatch > 0 {
		cfg.VisibleBatch = c.VisibleBatch
	}
	if c.HiddenBatch > 0 {
		cfg.HiddenBatch = c.HiddenBatch
	}
	if c.VisibleDelay > 0 {
		cfg.VisibleDelay = c.VisibleDelay
	}
	if c.HiddenDelay > 0 {
		cfg.HiddenDelay = c.HiddenDelay
	}
	if c.RevealInterval > 0 {
		cfg.RevealInterval = c.RevealInterval
	}
	cfg.Hidden = hidden
	return cfg
}

// StorageConfig 描述会话记录的存储位置。RedisURL 为空时使用内存存储。
type StorageConfig struct {
	RedisURL   string
	SessionTTL time.Duration
}

// MetricsConfig 控制 /metrics 暴露。
type MetricsConfig struct {
	Enabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	emotionEnabled, err := parseBoolEnv("AI_EMOTION_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	emotionHistory := 6
	if historyOverride, err := parseOptionalIntEnv("AI_EMOTION_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			emotionHistory = 1
		} else {
			emotionHistory = *historyOverride
		}
	}

	return AIConfig{
		APIKey:              strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:           strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:               strings.TrimSpace(os.Getenv("Model")),
		BaseURL:             getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:              getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:         temperature,
		TopP:                topP,
		MaxTokens:           maxTokens,
		StreamResponse:      stream,
		EmotionLLMEnabled:   emotionEnabled,
		EmotionHistoryLimit: emotionHistory,
	}, nil
}

func loadRenderConfig() (RenderConfig, error) {
	var cfg RenderConfig
	var err error

	if cfg.VisibleDelay, err = parseDurationEnv("RENDER_VISIBLE_DELAY", 0); err != nil {
		return RenderConfig{}, err
	}
	if cfg.HiddenDelay, err = parseDurationEnv("RENDER_HIDDEN_DELAY", 0); err != nil {
		return RenderConfig{}, err
	}
	if cfg.RevealInterval, err = parseDurationEnv("RENDER_REVEAL_INTERVAL", 0); err != nil {
		return RenderConfig{}, err
	}

	visibleBatch, err := parseOptionalIntEnv("RENDER_VISIBLE_BATCH")
	if err != nil {
		return RenderConfig{}, err
	}
	if visibleBatch != nil {
		cfg.VisibleBatch = *visibleBatch
	}

	hiddenBatch, err := parseOptionalIntEnv("RENDER_HIDDEN_BATCH")
	if err != nil {
		return RenderConfig{}, err
	}
	if hiddenBatch != nil {
		cfg.HiddenBatch = *hiddenBatch
	}

	return cfg, nil
}

func loadStorageConfig() (StorageConfig, error) {
	ttl, err := parseDurationEnv("REDIS_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return StorageConfig{}, err
	}

	return StorageConfig{
		RedisURL:   strings.TrimSpace(os.Getenv("REDIS_URL")),
		SessionTTL: ttl,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
