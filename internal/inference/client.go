package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of one remote generation call.
type Result struct {
	Content    string
	TokensUsed int
	Model      string
}

// Client issues one opaque call per prompt to a hosted text-generation
// endpoint. Implementations must respect the Params timeout and return the
// typed errors from this package on failure.
type Client interface {
	Generate(ctx context.Context, prompt string, p Params) (Result, error)
	Close() error
}

const systemPrompt = "You are a helpful AI assistant. Provide clear, accurate responses."

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint over
// HTTP. The underlying transport is created lazily on first use and reused
// across calls; Close is idempotent and does not interrupt in-flight calls.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string

	connectTimeout time.Duration

	mu     sync.Mutex
	client *http.Client
	closed bool
}

// NewHTTPClient constructs a client for baseURL (scheme + host, no trailing
// slash required). model names the deployment passed in each payload.
func NewHTTPClient(baseURL, apiKey, model string) *HTTPClient {
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		model:          model,
		connectTimeout: 10 * time.Second,
	}
}

// httpClient returns the shared pooled client, creating it on first use.
func (c *HTTPClient) httpClient() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("inference client closed")
	}
	if c.client == nil {
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   c.connectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   25,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		// Timeout stays 0: every call carries a context deadline from Params.
		c.client = &http.Client{Transport: tr, Timeout: 0}
	}
	return c.client, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate performs one non-streaming chat completion. The Params timeout is
// applied via context so a hung endpoint cannot outlive the caller's budget.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, p Params) (Result, error) {
	cli, err := c.httpClient()
	if err != nil {
		return Result{}, transportError{cause: err}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, transportError{cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := cli.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, timeoutError{elapsed: time.Since(start).Round(time.Millisecond).String()}
		}
		return Result{}, transportError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, remoteRejectedError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, timeoutError{elapsed: time.Since(start).Round(time.Millisecond).String()}
		}
		return Result{}, transportError{cause: err}
	}
	if len(out.Choices) == 0 {
		return Result{}, remoteRejectedError{status: resp.StatusCode, body: "response contained no choices"}
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return Result{
		Content:    strings.TrimSpace(out.Choices[0].Message.Content),
		TokensUsed: out.Usage.TotalTokens,
		Model:      model,
	}, nil
}

// Close releases idle connections. Safe to call more than once; in-flight
// calls are left to finish or fail on their own deadlines.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.client != nil {
		if tr, ok := c.client.Transport.(*http.Transport); ok {
			tr.CloseIdleConnections()
		}
		c.client = nil
	}
	return nil
}
