package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"post_worker/core/port/out"
	"post_worker/pkg/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClientWithConfig(ClientConfig{
		APIKey:     "test",
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClientWithConfig() error = %v", err)
	}
	return c
}

func TestGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		MaxTokens int `json:"max_tokens"`
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"[\"post\"]"},"finish_reason":"stop"}]}`)
	})

	text, err := c.Generate(context.Background(), out.GenerationRequest{System: "sys", Prompt: "write", MaxTokens: 300})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `["post"]` {
		t.Errorf("Generate() = %q", text)
	}
	if got.Model != DefaultModel || got.MaxTokens != 300 {
		t.Errorf("request model=%q max_tokens=%d", got.Model, got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "write" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"Rate limit reached. Please try again in 1.5s","type":"requests","code":"rate_limit_exceeded"}}`,
			wantCode: apperr.CodeRateLimited,
		},
		{
			name:     "context length exceeded",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"This model's maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			wantCode: apperr.CodeOversizedRequest,
		},
		{
			name:     "payload too large",
			status:   http.StatusRequestEntityTooLarge,
			body:     `{"error":{"message":"too large","type":"invalid_request_error"}}`,
			wantCode: apperr.CodeOversizedRequest,
		},
		{
			name:     "bad key",
			status:   http.StatusUnauthorized,
			body:     `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantCode: apperr.CodeAuthFailed,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantCode: apperr.CodeTransportError,
		},
		{
			name:     "other client error",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"invalid temperature","type":"invalid_request_error"}}`,
			wantCode: apperr.CodeExternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := c.Generate(context.Background(), out.GenerationRequest{Prompt: "x"})
			if code := apperr.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %q, want %q (err %v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestGenerateNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	})
	_, err := c.Generate(context.Background(), out.GenerationRequest{Prompt: "x"})
	if !apperr.HasCode(err, apperr.CodeMalformedResponse) {
		t.Errorf("expected MALFORMED_RESPONSE, got %v", err)
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClientWithConfig(ClientConfig{APIKey: "test", BaseURL: url + "/v1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Generate(context.Background(), out.GenerationRequest{Prompt: "x"})
	if !apperr.HasCode(err, apperr.CodeTransportError) {
		t.Errorf("expected TRANSPORT_ERROR, got %v", err)
	}
}

func TestNewClientEmbeddingModel(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		want    openai.EmbeddingModel
		wantErr bool
	}{
		{name: "default", model: "", want: openai.AdaEmbeddingV2},
		{name: "configured name", model: "code-search-ada-code-001", want: openai.AdaCodeSearchCode},
		{name: "unknown name", model: "my-embedder", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClientWithConfig(ClientConfig{APIKey: "test", EmbeddingModel: tt.model})
			if tt.wantErr {
				if !apperr.HasCode(err, apperr.CodeConfigError) {
					t.Errorf("expected CONFIG_ERROR, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClientWithConfig() error = %v", err)
			}
			if c.embeddingModel != tt.want {
				t.Errorf("embedding model = %v, want %v", c.embeddingModel, tt.want)
			}
		})
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Run("vectors in input order", func(t *testing.T) {
		var sent struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
				t.Errorf("decode request: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"object":"list","model":"m","data":[
				{"object":"embedding","index":1,"embedding":[0,1]},
				{"object":"embedding","index":0,"embedding":[1,0]}]}`)
		})
		got, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
		if err != nil {
			t.Fatalf("EmbedBatch() error = %v", err)
		}
		if len(got) != 2 || got[0][0] != 1 || got[1][1] != 1 {
			t.Errorf("EmbedBatch() = %v", got)
		}
		if sent.Model != DefaultEmbeddingModel || len(sent.Input) != 2 {
			t.Errorf("request model = %q, input = %v", sent.Model, sent.Input)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[1]}]}`)
		})
		_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
		if !apperr.HasCode(err, apperr.CodeMalformedResponse) {
			t.Errorf("expected MALFORMED_RESPONSE, got %v", err)
		}
	})

	t.Run("auth failure", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"no key","type":"invalid_request_error"}}`)
		})
		_, err := c.EmbedBatch(context.Background(), []string{"a"})
		if !apperr.HasCode(err, apperr.CodeAuthFailed) {
			t.Errorf("expected AUTH_FAILED, got %v", err)
		}
	})

	t.Run("empty input makes no call", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("unexpected request")
		})
		if got, err := c.EmbedBatch(context.Background(), nil); err != nil || got != nil {
			t.Errorf("EmbedBatch(nil) = %v, %v", got, err)
		}
	})
}

type recordingWaiter struct {
	keys []string
	err  error
}

func (w *recordingWaiter) Wait(_ context.Context, key string) error {
	w.keys = append(w.keys, key)
	return w.err
}

type staticGenerator struct{ calls int }

func (g *staticGenerator) Generate(context.Context, out.GenerationRequest) (string, error) {
	g.calls++
	return "[]", nil
}

func TestThrottledGenerator(t *testing.T) {
	w := &recordingWaiter{}
	next := &staticGenerator{}
	g := NewThrottledGenerator(next, w, "openai:gpt-4o-mini")

	if _, err := g.Generate(context.Background(), out.GenerationRequest{Prompt: "p"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if next.calls != 1 || len(w.keys) != 1 || w.keys[0] != "openai:gpt-4o-mini" {
		t.Errorf("calls = %d keys = %v", next.calls, w.keys)
	}

	w.err = context.DeadlineExceeded
	_, err := g.Generate(context.Background(), out.GenerationRequest{Prompt: "p"})
	if !apperr.HasCode(err, apperr.CodeTransportError) {
		t.Errorf("expected TRANSPORT_ERROR when the wait fails, got %v", err)
	}
	if next.calls != 1 {
		t.Error("the call must not go out when the wait fails")
	}
}
