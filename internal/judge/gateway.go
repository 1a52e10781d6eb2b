package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

type GatewayConfig struct {
	URL        string
	APIKey     string
	Model      string
	MaxTokens  int
	Pricing    Pricing
	HTTPClient *http.Client
}

// Gateway calls an OpenAI-compatible chat completions endpoint.
type Gateway struct {
	cfg GatewayConfig
	log *logger.Logger
}

func NewGateway(cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Gateway{cfg: cfg, log: log.Component("judge.gateway")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model,omitempty"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatUsage struct {
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (g *Gateway) Judge(ctx context.Context, p Prompt) (types.Judgment, error) {
	const op = "judge.gateway"
	if g.cfg.URL == "" || g.cfg.APIKey == "" {
		return types.Judgment{}, failures.Configuration(op, errors.New("llm gateway not configured"))
	}

	data, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Temperature:    0,
		MaxTokens:      g.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return types.Judgment{}, failures.New(failures.KindInternal, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return types.Judgment{}, failures.Configuration(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.cfg.HTTPClient.Do(req)
	if err != nil {
		return types.Judgment{}, failures.Transient(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Judgment{}, failures.Transient(op, err)
	}
	log := g.log.WithField("http_status", resp.StatusCode).WithField("identity", p.Identity)
	if resp.StatusCode >= 300 {
		log.Warn("llm gateway returned an error status")
		return types.Judgment{}, failures.New(failures.HTTPStatus(resp.StatusCode), op,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	content, err := extractContentFromChoices(body)
	if err != nil {
		// some gateways return the model answer as the whole body
		content = string(body)
	}
	criteria, rationale, err := ParseVerdict(content)
	if err != nil {
		log.WithError(err).Warn("unparseable llm answer")
		return types.Judgment{}, err
	}

	j := types.Judgment{Criteria: criteria, Rationale: rationale, Model: g.cfg.Model}
	var usage chatUsage
	if json.Unmarshal(body, &usage) == nil {
		if usage.Usage != nil {
			j.PromptTokens = usage.Usage.PromptTokens
			j.CompletionTokens = usage.Usage.CompletionTokens
		}
		if strings.TrimSpace(usage.Model) != "" {
			j.Model = usage.Model
		}
	}
	j.Cost = g.cfg.Pricing.Cost(j.PromptTokens, j.CompletionTokens)

	log.WithField("criteria_met", criteria.Count()).WithField("cost", j.Cost).Debug("judgment parsed")
	return j, nil
}
