package grocerybot

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

type SlackConfig struct {
	BotToken  string `env:"SLACK_BOT_TOKEN,required"`
	AppToken  string `env:"SLACK_APP_TOKEN,required"`
	ChannelID string `env:"SLACK_CHANNEL_ID,required"`

	// Slack user IDs for the two household members.
	UserIDErich  string `env:"USER_ID_ERICH,required"`
	UserIDLauren string `env:"USER_ID_LAUREN,required"`
}

// UserMapping maps raw Slack user IDs to display names. Messages from
// anyone else are dropped.
func (c SlackConfig) UserMapping() map[string]string {
	return map[string]string{
		c.UserIDErich:  "Erich",
		c.UserIDLauren: "Lauren",
	}
}

type AnthropicConfig struct {
	// APIKey must be set when LLM_BACKEND is anthropic.
	APIKey          string `env:"ANTHROPIC_API_KEY,default="`
	Model           string `env:"ANTHROPIC_MODEL,default=claude-sonnet-4-5-20250929"`
	ClassifierModel string `env:"ANTHROPIC_CLASSIFIER_MODEL,default=claude-haiku-4-5-20251001"`
}

// BedrockConfig selects the inference profiles used when LLM_BACKEND is
// bedrock. Credentials and region come from the standard AWS environment.
type BedrockConfig struct {
	ModelID           string `env:"BEDROCK_MODEL_ID,default=us.anthropic.claude-sonnet-4-5-20250929-v1:0"`
	ClassifierModelID string `env:"BEDROCK_CLASSIFIER_MODEL_ID,default=us.anthropic.claude-haiku-4-5-20251001-v1:0"`
}

type KrogerConfig struct {
	ClientID     string `env:"KROGER_CLIENT_ID,default="`
	ClientSecret string `env:"KROGER_CLIENT_SECRET,default="`
	RedirectURI  string `env:"KROGER_REDIRECT_URI,default="`
	LocationID   string `env:"KROGER_LOCATION_ID,default="`
}

type DatabaseConfig struct {
	URL string `env:"DATABASE_URL,required"`
}

// DSN normalizes the URL scheme; some hosts hand out postgres:// URLs.
func (c DatabaseConfig) DSN() string {
	if strings.HasPrefix(c.URL, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(c.URL, "postgres://")
	}
	return c.URL
}

type AgentConfig struct {
	// LLMBackend picks the model transport: "anthropic" for the direct
	// Messages API, "bedrock" for the Converse API.
	LLMBackend string `env:"LLM_BACKEND,default=anthropic"`

	MaxToolTurns         int    `env:"MAX_TOOL_TURNS,default=15"`
	StatusCheckpointTurn int    `env:"STATUS_CHECKPOINT_TURN,default=10"`
	EnablePromptCaching  bool   `env:"ENABLE_PROMPT_CACHING,default=true"`
	UserTimezone         string `env:"USER_TIMEZONE,default=America/Denver"`
	HTTPAddr             string `env:"HTTP_ADDR,default=:8080"`

	// Optional seed document for a fresh database: a local path, or an S3
	// bucket/key pair. The path wins when both are set.
	SeedDataPath   string `env:"SEED_DATA_PATH,default="`
	SeedDataBucket string `env:"SEED_DATA_BUCKET,default="`
	SeedDataKey    string `env:"SEED_DATA_KEY,default=seed.json"`
}

type Config struct {
	Slack     SlackConfig
	Anthropic AnthropicConfig
	Bedrock   BedrockConfig
	Kroger    KrogerConfig
	Database  DatabaseConfig
	Agent     AgentConfig
}

// LoadConfig decodes the full configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config from environment: %w", err)
	}
	return cfg, nil
}
