package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"warden/internal/domain/ports"
	"warden/internal/infra/httpclient"
	wardenerrors "warden/internal/shared/errors"
	jsonx "warden/internal/shared/json"
	"warden/internal/shared/logging"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	retry      wardenerrors.RetryConfig
	logger     logging.Logger
}

func NewOpenAIClient(cfg Config) (ports.LLMClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai client requires a model")
	}
	raw := cfg.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = defaultOpenAIBaseURL
	}
	baseURL, err := httpclient.ValidateBaseURL(raw)
	if err != nil {
		return nil, err
	}
	logger := logging.WithComponent(logging.OrNop(cfg.Logger), "openai")
	return &openaiClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		headers:    cfg.Headers,
		httpClient: httpclient.New(cfg.Timeout, logger),
		retry:      retryConfig(cfg),
		logger:     logger,
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []ports.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Chat(ctx context.Context, messages []ports.Message, opts ports.ChatOptions) (string, error) {
	body, err := jsonx.Marshal(openaiRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return wardenerrors.RetryWithResult(ctx, c.retry, c.logger, func(ctx context.Context) (string, error) {
		return c.do(ctx, body, opts.RequestID)
	})
}

func (c *openaiClient) do(ctx context.Context, body []byte, requestID string) (string, error) {
	prefix := fmt.Sprintf("[req:%s] ", requestID)
	endpoint := c.baseURL + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", wardenerrors.NewPermanent(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.logger.Debug("%sPOST %s (model=%s, %d bytes)", prefix, endpoint, c.model, len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", wardenerrors.NewTransient(err, fmt.Sprintf("request to %s failed: %v", endpoint, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wardenerrors.NewTransient(err, fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("%sError response %d: %s", prefix, resp.StatusCode, truncateForLog(respBody, 2000))
		return "", wardenerrors.FromHTTPStatus(resp.StatusCode, string(respBody))
	}

	var parsed openaiResponse
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return "", wardenerrors.NewPermanent(err, fmt.Sprintf("decode response: %v", err))
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", wardenerrors.NewPermanent(errors.New(parsed.Error.Message),
			strings.TrimPrefix(parsed.Error.Type+": "+parsed.Error.Message, ": "))
	}
	if len(parsed.Choices) == 0 {
		return "", wardenerrors.NewTransient(errors.New("no choices in response"), "LLM returned an empty response")
	}

	c.logger.Debug("%sUsage: %d prompt + %d completion = %d total tokens (finish=%s)", prefix,
		parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, parsed.Usage.TotalTokens,
		parsed.Choices[0].FinishReason)
	return parsed.Choices[0].Message.Content, nil
}
