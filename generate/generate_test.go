package generate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/halnet"
)

func newOpenRouterServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeChoice(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func TestNewMissingCredential(t *testing.T) {
	for _, provider := range []string{"", ProviderOpenRouter, ProviderAnthropic, ProviderGemini} {
		t.Run(provider, func(t *testing.T) {
			_, err := New(context.Background(), Config{Provider: provider})
			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr))
			require.Contains(t, err.Error(), "API key")
		})
	}
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "mystery", APIKey: "k"})
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, "mystery", cerr.Provider)
}

func TestNewDefaults(t *testing.T) {
	c, err := New(context.Background(), Config{APIKey: "k"})
	require.NoError(t, err)
	require.Equal(t, ProviderOpenRouter, c.Name())
	require.Equal(t, DefaultOpenRouterModel, c.Model())

	c, err = New(context.Background(), Config{APIKey: "k", Model: "meta/llama"})
	require.NoError(t, err)
	require.Equal(t, "meta/llama", c.Model())
}

func TestOpenRouterGenerate(t *testing.T) {
	var got chatRequest
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, openRouterReferer, r.Header.Get("HTTP-Referer"))
		require.Equal(t, openRouterTitle, r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, "<html>hello</html>")
	})

	c, err := New(context.Background(), Config{APIKey: "secret", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), Request{Path: halnet.Normalize("/"), Prompt: "make a page"})
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", string(res.Content))
	require.Equal(t, ProviderOpenRouter, res.Provider)

	require.Equal(t, DefaultOpenRouterModel, got.Model)
	require.Equal(t, DefaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "user", got.Messages[0].Role)
	require.Equal(t, "make a page", got.Messages[0].Content)
}

func TestOpenRouterRequestMaxTokens(t *testing.T) {
	var got chatRequest
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, "body{}")
	})

	c, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, MaxTokens: 100})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/a.css"), Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, 100, got.MaxTokens)

	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/a.css"), Prompt: "p", MaxTokens: 50})
	require.NoError(t, err)
	require.Equal(t, 50, got.MaxTokens)
}

func TestOpenRouterFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		statusCode int
		isEmpty    bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			statusCode: http.StatusServiceUnavailable,
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
			},
			statusCode: http.StatusUnauthorized,
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"choices":[]}`)
			},
			isEmpty: true,
		},
		{
			name: "empty content",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeChoice(w, "   ")
			},
			isEmpty: true,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `not json`)
			},
		},
		{
			name: "error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"error":{"message":"model not found"}}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOpenRouterServer(t, tt.handler)
			c, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)

			res, err := c.Generate(context.Background(), Request{Path: halnet.Normalize("/about"), Prompt: "p"})
			require.Nil(t, res)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr), "got %T: %v", err, err)
			require.Equal(t, ProviderOpenRouter, perr.Provider)
			require.Equal(t, "/about", perr.Path)
			require.Equal(t, tt.statusCode, perr.StatusCode)
			if tt.isEmpty {
				require.ErrorIs(t, err, ErrEmptyContent)
			}
		})
	}
}

func TestOpenRouterTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(context.Background(), Config{APIKey: "k", BaseURL: url})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/"), Prompt: "p"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	require.Zero(t, perr.StatusCode)
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/"), Prompt: "p"})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
}

func TestGenerateStripsFence(t *testing.T) {
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChoice(w, "```css\nbody { color: purple; }\n```")
	})

	c, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), Request{Path: halnet.Normalize("/theme.css"), Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "body { color: purple; }", string(res.Content))
}

func TestAnthropicGenerate(t *testing.T) {
	var calls atomic.Int32
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "claude-test", body["model"])
		require.EqualValues(t, DefaultMaxTokens, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "<html>from messages</html>"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	})

	c, err := New(context.Background(), Config{
		Provider: ProviderAnthropic,
		APIKey:   "secret",
		Model:    "claude-test",
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), Request{Path: halnet.Normalize("/"), Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "<html>from messages</html>", string(res.Content))
	require.Equal(t, int32(1), calls.Load())
}

func TestAnthropicErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	})

	c, err := New(context.Background(), Config{Provider: ProviderAnthropic, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/a"), Prompt: "p"})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	require.Equal(t, int32(1), calls.Load())
}

func TestGeminiGenerate(t *testing.T) {
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates": [
				{"content": {"role": "model", "parts": [{"text": "<svg></svg>"}]}}
			]
		}`)
	})

	c, err := New(context.Background(), Config{
		Provider: ProviderGemini,
		APIKey:   "k",
		Model:    "gemini-test",
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), Request{Path: halnet.Normalize("/logo.svg"), Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, "<svg></svg>", string(res.Content))
}

func TestGeminiEmpty(t *testing.T) {
	srv := newOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates": []}`)
	})

	c, err := New(context.Background(), Config{Provider: ProviderGemini, APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Path: halnet.Normalize("/"), Prompt: "p"})
	require.ErrorIs(t, err, ErrEmptyContent)
}
