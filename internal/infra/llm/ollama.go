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

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaClient talks to a local Ollama server's native chat endpoint.
type ollamaClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	retry      wardenerrors.RetryConfig
	logger     logging.Logger
}

func NewOllamaClient(cfg Config) (ports.LLMClient, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("ollama client requires a model")
	}
	raw := cfg.BaseURL
	if strings.TrimSpace(raw) == "" {
		raw = defaultOllamaBaseURL
	}
	baseURL, err := httpclient.ValidateBaseURL(raw)
	if err != nil {
		return nil, err
	}
	baseURL = strings.TrimSuffix(baseURL, "/api")
	logger := logging.WithComponent(logging.OrNop(cfg.Logger), "ollama")
	return &ollamaClient{
		model:      cfg.Model,
		baseURL:    baseURL,
		httpClient: httpclient.New(cfg.Timeout, logger),
		retry:      retryConfig(cfg),
		logger:     logger,
	}, nil
}

func (c *ollamaClient) Model() string {
	return c.model
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ports.Message `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (c *ollamaClient) Chat(ctx context.Context, messages []ports.Message, opts ports.ChatOptions) (string, error) {
	options := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	body, err := jsonx.Marshal(ollamaRequest{
		Model:    c.model,
		Messages: messages,
		Format:   "json",
		Options:  options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return wardenerrors.RetryWithResult(ctx, c.retry, c.logger, func(ctx context.Context) (string, error) {
		return c.do(ctx, body, opts.RequestID)
	})
}

func (c *ollamaClient) do(ctx context.Context, body []byte, requestID string) (string, error) {
	endpoint := c.baseURL + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", wardenerrors.NewPermanent(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.logger.Debug("[req:%s] POST %s (model=%s)", requestID, endpoint, c.model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", wardenerrors.NewTransient(err, fmt.Sprintf("ollama unreachable at %s: %v", c.baseURL, err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", wardenerrors.NewTransient(err, fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", wardenerrors.FromHTTPStatus(resp.StatusCode, string(respBody))
	}

	var parsed ollamaResponse
	if err := jsonx.Unmarshal(respBody, &parsed); err != nil {
		return "", wardenerrors.NewPermanent(err, fmt.Sprintf("decode response: %v", err))
	}
	if parsed.Error != "" {
		return "", wardenerrors.NewPermanent(errors.New(parsed.Error), "ollama: "+parsed.Error)
	}
	c.logger.Debug("[req:%s] Usage: %d prompt + %d completion tokens", requestID, parsed.PromptEvalCount, parsed.EvalCount)
	return parsed.Message.Content, nil
}
