package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
	"post_worker/pkg/httputil"
)

const serviceName = "openai"

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	maxTokens      int
	temperature    float32
}

type ClientConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
	// HTTPClient overrides the tuned default transport.
	HTTPClient *http.Client
}

var (
	_ out.TextGenerator     = (*Client)(nil)
	_ out.EmbeddingProvider = (*Client)(nil)
)

// NewClientWithConfig fails with CONFIG_ERROR when the embedding model name
// is not one go-openai knows.
func NewClientWithConfig(cfg ClientConfig) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingName := cfg.EmbeddingModel
	if embeddingName == "" {
		embeddingName = DefaultEmbeddingModel
	}
	var embeddingModel openai.EmbeddingModel
	_ = embeddingModel.UnmarshalText([]byte(embeddingName))
	if embeddingModel == openai.Unknown {
		return nil, apperr.ConfigError(fmt.Sprintf("unknown EMBEDDING_MODEL %q", embeddingName))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = httputil.NewOptimizedClient(httputil.OpenAIClientConfig(cfg.Timeout))
	}

	return &Client{
		client:         openai.NewClientWithConfig(oc),
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
		temperature:    float32(temperature),
	}, nil
}

// Generate sends one system + user exchange and returns the first choice.
func (c *Client) Generate(ctx context.Context, req out.GenerationRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.MalformedResponse(serviceName, "no choices in completion")
	}

	return resp.Choices[0].Message.Content, nil
}

// EmbedBatch embeds texts in one request and returns vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: c.embeddingModel,
		Input: texts,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.MalformedResponse(serviceName, "embedding count does not match input count")
	}

	embeddings := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) || embeddings[idx] != nil {
			idx = i
		}
		embeddings[idx] = d.Embedding
	}
	return embeddings, nil
}

// classifyError maps go-openai and transport errors onto apperr codes.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			msg = code + " " + msg
		}
		return classifyStatus(apiErr.HTTPStatusCode, msg, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return classifyStatus(reqErr.HTTPStatusCode, msg, err)
	}

	if isTransport(err) {
		return apperr.TransportError(serviceName, err)
	}
	return apperr.ExternalError(serviceName, err)
}

func classifyStatus(status int, message string, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.RateLimited(serviceName, err)
	case status == http.StatusRequestEntityTooLarge:
		return apperr.OversizedRequest(serviceName, err)
	case status == http.StatusBadRequest && isContextOverflow(message):
		return apperr.OversizedRequest(serviceName, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.AuthFailed(serviceName, err)
	case status >= 500:
		return apperr.TransportError(serviceName, err)
	}
	if isTransport(err) {
		return apperr.TransportError(serviceName, err)
	}
	return apperr.ExternalError(serviceName, err)
}

func isContextOverflow(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "context_length_exceeded") ||
		strings.Contains(m, "maximum context length") ||
		strings.Contains(m, "too many tokens")
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
