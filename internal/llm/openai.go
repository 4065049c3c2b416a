package llm

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
)

// Config configures the OpenAI-compatible provider. The API key is never
// serialised.
type Config struct {
	Model             string           `yaml:"model" json:"model"`
	BaseURL           string           `yaml:"base_url" json:"base_url"`
	APIKeyEnv         string           `yaml:"api_key_env" json:"api_key_env"`
	APIKey            string           `yaml:"-" json:"-"`
	Temperature       float64          `yaml:"temperature" json:"temperature"`
	Timeout           time.Duration    `yaml:"timeout" json:"timeout"`
	RequestsPerMinute float64          `yaml:"requests_per_minute" json:"requests_per_minute"` // 0 disables pacing
	Retry             errs.RetryConfig `yaml:"retry" json:"retry"`
}

// DefaultConfig returns the provider defaults.
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-4o-mini",
		APIKeyEnv:         "OPENAI_API_KEY",
		Temperature:       0.2,
		Timeout:           60 * time.Second,
		RequestsPerMinute: 30,
		Retry:             errs.DefaultRetryConfig(),
	}
}

// OpenAI asks a chat-completions endpoint for a JSON decision.
type OpenAI struct {
	client openai.Client
	cfg    Config
	logger *logger.Logger
}

// NewOpenAI creates the provider.
func NewOpenAI(cfg Config, l *logger.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errs.NewConfigError("decision provider API key is required (set " + cfg.APIKeyEnv + ")")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if l == nil {
		l = logger.Nop()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are owned by Retrying so they are paced and logged in one place
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: l.WithComponent("llm"),
	}, nil
}

// Decide sends the system and user prompts and parses the reply.
func (o *OpenAI) Decide(ctx context.Context, system, user string) (*Decision, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(o.cfg.Temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			if e := errs.CategorizeStatus(apiErr.StatusCode, o.cfg.BaseURL, err); e != nil {
				return nil, e
			}
		}
		return nil, errs.Categorize(err, o.cfg.BaseURL)
	}

	if len(resp.Choices) == 0 {
		return nil, errs.NewDecisionError("empty response", nil)
	}

	o.logger.WithDuration(time.Since(start)).
		WithField("tokens", resp.Usage.TotalTokens).
		Debug("Decision received")

	return ParseDecision(resp.Choices[0].Message.Content)
}
