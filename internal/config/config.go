package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
	Groq      GroqConfig
	OpenAI    OpenAIConfig
	Storage   StorageConfig
	R2        R2Config
	Pipeline  PipelineConfig
	Status    StatusConfig
	Quality   QualityConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	BuildPerHour int
}

// LLMConfig selects the generative text provider: groq, openai or mock
type LLMConfig struct {
	Provider    string
	Temperature float64
	MaxTokens   int
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// StorageConfig selects the artifact store: fs or r2
type StorageConfig struct {
	Driver string
	Root   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Prefix          string
}

type PipelineConfig struct {
	PerTaskTimeout   time.Duration
	GlobalDeadline   time.Duration
	MediaWaitTimeout time.Duration
	PollInterval     time.Duration
	Dispatch         string // local or asynq
	Lock             string // local or redis
	LockTTL          time.Duration
}

type StatusConfig struct {
	Cache string // memory or redis
	TTL   time.Duration
}

type QualityConfig struct {
	MinWords    int
	MaxEmphasis int
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                 "SERVER_PORT",
		"server.env":                  "SERVER_ENV",
		"server.log_level":            "LOG_LEVEL",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"redis.db":                    "REDIS_DB",
		"jwt.secret":                  "JWT_SECRET",
		"zitadel.client_id":           "ZITADEL_CLIENT_ID",
		"zitadel.issuer":              "ZITADEL_ISSUER",
		"gateway.enabled":             "GATEWAY_ENABLED",
		"ratelimit.build_per_hour":    "RATELIMIT_BUILD_PER_HOUR",
		"llm.provider":                "LLM_PROVIDER",
		"llm.temperature":             "LLM_TEMPERATURE",
		"llm.max_tokens":              "LLM_MAX_TOKENS",
		"groq.api_key":                "GROQ_API_KEY",
		"groq.base_url":               "GROQ_BASE_URL",
		"groq.model":                  "GROQ_MODEL",
		"openai.api_key":              "OPENAI_API_KEY",
		"openai.base_url":             "OPENAI_BASE_URL",
		"openai.model":                "OPENAI_MODEL",
		"storage.driver":              "STORAGE_DRIVER",
		"storage.root":                "STORAGE_ROOT",
		"r2.account_id":               "R2_ACCOUNT_ID",
		"r2.access_key_id":            "R2_ACCESS_KEY_ID",
		"r2.secret_access_key":        "R2_SECRET_ACCESS_KEY",
		"r2.bucket_name":              "R2_BUCKET_NAME",
		"r2.public_url":               "R2_PUBLIC_URL",
		"r2.prefix":                   "R2_PREFIX",
		"pipeline.per_task_timeout":   "PIPELINE_PER_TASK_TIMEOUT",
		"pipeline.global_deadline":    "PIPELINE_GLOBAL_DEADLINE",
		"pipeline.media_wait_timeout": "PIPELINE_MEDIA_WAIT_TIMEOUT",
		"pipeline.poll_interval":      "PIPELINE_POLL_INTERVAL",
		"pipeline.dispatch":           "PIPELINE_DISPATCH",
		"pipeline.lock":               "PIPELINE_LOCK",
		"pipeline.lock_ttl":           "PIPELINE_LOCK_TTL",
		"status.cache":                "STATUS_CACHE",
		"status.ttl":                  "STATUS_TTL",
		"quality.min_words":           "QUALITY_MIN_WORDS",
		"quality.max_emphasis":        "QUALITY_MAX_EMPHASIS",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	return fromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.build_per_hour", 10)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 700)
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("storage.driver", "fs")
	v.SetDefault("storage.root", "./data/runs")
	v.SetDefault("r2.prefix", "runs")

	v.SetDefault("pipeline.per_task_timeout", 20*time.Second)
	v.SetDefault("pipeline.global_deadline", 120*time.Second)
	v.SetDefault("pipeline.media_wait_timeout", 10*time.Minute)
	v.SetDefault("pipeline.poll_interval", 2*time.Second)
	v.SetDefault("pipeline.dispatch", "local")
	v.SetDefault("pipeline.lock", "local")
	v.SetDefault("pipeline.lock_ttl", 30*time.Minute)

	v.SetDefault("status.cache", "memory")
	v.SetDefault("status.ttl", 3*time.Second)

	v.SetDefault("quality.min_words", 25)
	v.SetDefault("quality.max_emphasis", 3)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			BuildPerHour: v.GetInt("ratelimit.build_per_hour"),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			BaseURL: v.GetString("openai.base_url"),
			Model:   v.GetString("openai.model"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Root:   v.GetString("storage.root"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Prefix:          v.GetString("r2.prefix"),
		},
		Pipeline: PipelineConfig{
			PerTaskTimeout:   v.GetDuration("pipeline.per_task_timeout"),
			GlobalDeadline:   v.GetDuration("pipeline.global_deadline"),
			MediaWaitTimeout: v.GetDuration("pipeline.media_wait_timeout"),
			PollInterval:     v.GetDuration("pipeline.poll_interval"),
			Dispatch:         strings.ToLower(v.GetString("pipeline.dispatch")),
			Lock:             strings.ToLower(v.GetString("pipeline.lock")),
			LockTTL:          v.GetDuration("pipeline.lock_ttl"),
		},
		Status: StatusConfig{
			Cache: strings.ToLower(v.GetString("status.cache")),
			TTL:   v.GetDuration("status.ttl"),
		},
		Quality: QualityConfig{
			MinWords:    v.GetInt("quality.min_words"),
			MaxEmphasis: v.GetInt("quality.max_emphasis"),
		},
	}
}
