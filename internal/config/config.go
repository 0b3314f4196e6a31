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
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	AI           AIConfig
	Verification VerificationConfig
	Store        StoreConfig
	Redis        RedisConfig
	Auth         AuthConfig
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

	verification, err := loadVerificationConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:       server,
		Log:          LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
		AI:           ai,
		Verification: verification,
		Store:        loadStoreConfig(),
		Redis:        RedisConfig{URL: strings.TrimSpace(os.Getenv("REDIS_URL"))},
		Auth:         auth,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// LogConfig controls the zerolog level.
type LogConfig struct {
	Level string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	VisionModel string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && c.credentialsPresent()
}

// VisionEnabled reports whether an image-capable model can be built.
func (c AIConfig) VisionEnabled() bool {
	return c.visionModel() != "" && c.credentialsPresent()
}

func (c AIConfig) credentialsPresent() bool {
	return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
}

func (c AIConfig) visionModel() string {
	if c.VisionModel != "" {
		return c.VisionModel
	}
	return c.Model
}

// NewChatModel 使用配置创建一个对话模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}
	return c.newArkModel(ctx, c.Model, c.Temperature)
}

// NewVisionModel 创建用于人脸帧分析的多模态模型。温度固定为 0，保证判定稳定。
func (c AIConfig) NewVisionModel(ctx context.Context) (model.ChatModel, error) {
	if !c.VisionEnabled() {
		return nil, fmt.Errorf("Ark 凭证或视觉模型配置缺失，请设置 VISION_MODEL 或 Model")
	}
	zero := 0.0
	return c.newArkModel(ctx, c.visionModel(), &zero)
}

func (c AIConfig) newArkModel(ctx context.Context, modelName string, temp *float64) (model.ChatModel, error) {
	var temperature *float32
	if temp != nil {
		val := float32(*temp)
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
		Model:       modelName,
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

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		VisionModel: strings.TrimSpace(os.Getenv("VISION_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// VerificationConfig 描述摄像头帧与客户端会话的生命周期。
type VerificationConfig struct {
	FrameMaxAge   time.Duration
	ClientIdleTTL time.Duration
}

func loadVerificationConfig() (VerificationConfig, error) {
	frameMaxAge, err := parseDurationEnv("VERIFY_FRAME_MAX_AGE", 5*time.Second)
	if err != nil {
		return VerificationConfig{}, err
	}

	idleTTL, err := parseDurationEnv("CLIENT_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return VerificationConfig{}, err
	}

	return VerificationConfig{FrameMaxAge: frameMaxAge, ClientIdleTTL: idleTTL}, nil
}

// StoreConfig selects the gorm dialect backing scans and chats.
type StoreConfig struct {
	Driver string
	DSN    string
}

func loadStoreConfig() StoreConfig {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "sqlite"))
	dsn := strings.TrimSpace(os.Getenv("STORE_DSN"))
	if dsn == "" && driver == "sqlite" {
		dsn = "kyc-shield.db"
	}
	return StoreConfig{Driver: driver, DSN: dsn}
}

// RedisConfig 可选；为空时令牌吊销与实时推送退化为进程内实现。
type RedisConfig struct {
	URL string
}

// Enabled reports whether a Redis URL was supplied.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig 描述身份提供方以及本服务签发的会话令牌。
type AuthConfig struct {
	Provider      ProviderConfig
	SessionSecret string
	SessionTTL    time.Duration
}

// ProviderConfig mirrors the settings an identity provider console hands out.
type ProviderConfig struct {
	APIKey     string
	AppID      string
	AuthDomain string
	ProjectID  string
	Secret     string
}

// Configured reports whether enough settings exist to attempt a sign-in.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != "" && p.Secret != ""
}

func loadAuthConfig() (AuthConfig, error) {
	ttl, err := parseDurationEnv("AUTH_SESSION_TTL", 12*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		Provider: ProviderConfig{
			APIKey:     strings.TrimSpace(os.Getenv("AUTH_PROVIDER_API_KEY")),
			AppID:      strings.TrimSpace(os.Getenv("AUTH_PROVIDER_APP_ID")),
			AuthDomain: strings.TrimSpace(os.Getenv("AUTH_PROVIDER_AUTH_DOMAIN")),
			ProjectID:  strings.TrimSpace(os.Getenv("AUTH_PROVIDER_PROJECT_ID")),
			Secret:     strings.TrimSpace(os.Getenv("AUTH_PROVIDER_SECRET")),
		},
		SessionSecret: strings.TrimSpace(os.Getenv("AUTH_SESSION_SECRET")),
		SessionTTL:    ttl,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
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
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
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
