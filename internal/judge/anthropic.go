package judge

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Pricing   Pricing
	// BaseURL and HTTPClient are for tests and proxies.
	BaseURL    string
	HTTPClient *http.Client
}

// Anthropic judges through the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
	log    *logger.Logger
}

func NewAnthropic(cfg AnthropicConfig, log *logger.Logger) *Anthropic {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if log == nil {
		log = logger.Discard()
	}
	// retries belong to the pipeline's policy
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		log:    log.Component("judge.anthropic"),
	}
}

func (a *Anthropic) Judge(ctx context.Context, p Prompt) (types.Judgment, error) {
	const op = "judge.anthropic"
	if a.cfg.APIKey == "" {
		return types.Judgment{}, failures.Configuration(op, errors.New("anthropic api key not set"))
	}

	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(a.cfg.MaxTokens),
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: p.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return types.Judgment{}, failures.New(failures.HTTPStatus(apiErr.StatusCode), op, err)
		}
		return types.Judgment{}, failures.Transient(op, err)
	}

	content := ""
	for _, block := range message.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	if content == "" {
		return types.Judgment{}, failures.Content(op, errors.New("no text content in response"))
	}

	criteria, rationale, err := ParseVerdict(content)
	if err != nil {
		a.log.WithError(err).WithField("identity", p.Identity).Warn("unparseable llm answer")
		return types.Judgment{}, err
	}

	j := types.Judgment{
		Criteria:         criteria,
		Rationale:        rationale,
		Model:            string(message.Model),
		PromptTokens:     message.Usage.InputTokens,
		CompletionTokens: message.Usage.OutputTokens,
	}
	if j.Model == "" {
		j.Model = a.cfg.Model
	}
	j.Cost = a.cfg.Pricing.Cost(j.PromptTokens, j.CompletionTokens)
	return j, nil
}
