// Package config loads process configuration: built-in defaults, an
// optional TOML file, then environment variable overrides. Validation
// failures are fatal — the process must not start half-configured.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8000"
	DefaultWebhookPath      = "/wechat-agent-callback"
	DefaultWecomAPIBase     = "https://qyapi.weixin.qq.com"
	DefaultLLMModel         = "qwen-max"
	DefaultVisionModel      = "qwen-vl-max"
	DefaultEmbeddingModel   = "text-embedding-v2"
	DefaultQdrantHost       = "127.0.0.1"
	DefaultQdrantPort       = 6334
	DefaultQdrantCollection = "highway_knowledge"
	DefaultGreenChannelPath = "data/green_channel.yaml"
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Wecom        WecomConfig        `toml:"wecom"`
	LLM          LLMConfig          `toml:"llm"`
	Qdrant       QdrantConfig       `toml:"qdrant"`
	GreenChannel GreenChannelConfig `toml:"green_channel"`
	Dispatch     DispatchConfig     `toml:"dispatch"`
}

type LogConfig struct {
	Level  string `toml:"level" envconfig:"LOG_LEVEL"`
	Format string `toml:"format" envconfig:"LOG_FORMAT"`
}

type ServerConfig struct {
	Addr        string `toml:"addr" envconfig:"SERVER_ADDR"`
	WebhookPath string `toml:"webhook_path" envconfig:"WEBHOOK_PATH"`
}

// WecomConfig holds the enterprise-provisioned credentials for the
// inbound callback crypto and the outbound message API.
type WecomConfig struct {
	CorpID         string `toml:"corp_id" envconfig:"WECOM_CORP_ID" validate:"required"`
	AgentID        int64  `toml:"agent_id" envconfig:"WECOM_AGENT_ID" validate:"required"`
	Secret         string `toml:"secret" envconfig:"WECOM_SECRET" validate:"required"`
	Token          string `toml:"token" envconfig:"WECOM_TOKEN" validate:"required"`
	EncodingAESKey string `toml:"encoding_aes_key" envconfig:"WECOM_ENCODING_AES_KEY" validate:"required,len=43"`
	APIBase        string `toml:"api_base" envconfig:"WECOM_API_BASE" validate:"required,url"`
}

type LLMConfig struct {
	APIBase        string        `toml:"api_base" envconfig:"OPENAI_API_BASE" validate:"required,url"`
	APIKey         string        `toml:"api_key" envconfig:"OPENAI_API_KEY" validate:"required"`
	Model          string        `toml:"model" envconfig:"LLM_MODEL_NAME" validate:"required"`
	VisionModel    string        `toml:"vision_model" envconfig:"VISION_MODEL_NAME" validate:"required"`
	EmbeddingModel string        `toml:"embedding_model" envconfig:"EMBEDDING_MODEL_NAME" validate:"required"`
	Timeout        time.Duration `toml:"timeout" envconfig:"LLM_TIMEOUT"`
}

type QdrantConfig struct {
	Host       string `toml:"host" envconfig:"QDRANT_HOST" validate:"required"`
	Port       int    `toml:"port" envconfig:"QDRANT_PORT" validate:"required"`
	APIKey     string `toml:"api_key" envconfig:"QDRANT_API_KEY"`
	UseTLS     bool   `toml:"use_tls" envconfig:"QDRANT_USE_TLS"`
	Collection string `toml:"collection" envconfig:"QDRANT_COLLECTION" validate:"required"`
}

// GreenChannelConfig points at the startup-loaded eligibility document.
type GreenChannelConfig struct {
	ListPath string `toml:"list_path" envconfig:"GREEN_CHANNEL_LIST_PATH" validate:"required"`
}

type DispatchConfig struct {
	MaxConcurrentTasks int `toml:"max_concurrent_tasks" envconfig:"MAX_CONCURRENT_TASKS" validate:"gt=0"`
	MaxIterations      int `toml:"max_iterations" envconfig:"AGENT_MAX_ITERATIONS" validate:"gt=0"`
}

// Load builds the config from defaults, the TOML file at path when it
// exists, and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:        DefaultHTTPAddr,
			WebhookPath: DefaultWebhookPath,
		},
		Wecom: WecomConfig{
			APIBase: DefaultWecomAPIBase,
		},
		LLM: LLMConfig{
			Model:          DefaultLLMModel,
			VisionModel:    DefaultVisionModel,
			EmbeddingModel: DefaultEmbeddingModel,
			Timeout:        60 * time.Second,
		},
		Qdrant: QdrantConfig{
			Host:       DefaultQdrantHost,
			Port:       DefaultQdrantPort,
			Collection: DefaultQdrantCollection,
		},
		GreenChannel: GreenChannelConfig{
			ListPath: DefaultGreenChannelPath,
		},
		Dispatch: DispatchConfig{
			MaxConcurrentTasks: 32,
			MaxIterations:      5,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
