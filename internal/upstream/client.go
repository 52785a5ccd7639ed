// Package upstream talks to the OpenAI-compatible completion endpoint served
// by vLLM.
//
// One Client is created per process. It owns a bounded HTTP transport that is
// shared by every request and released by Close.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const chatCompletionsSuffix = "/chat/completions"

// Config configures a Client.
type Config struct {
	// APIURL is the full chat completions URL, e.g.
	// http://localhost:8002/v1/chat/completions.
	APIURL string

	// Model is sent with every request.
	Model string

	// APIKey is sent as a bearer token. vLLM usually ignores it.
	APIKey string

	// Timeout bounds a single attempt (default: 180s).
	Timeout time.Duration

	// MaxConnections caps connections to the endpoint (default: 10).
	MaxConnections int

	// MaxIdleConnections caps idle keep-alive connections (default: 5).
	MaxIdleConnections int
}

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call.
type Request struct {
	Task     Task
	Messages []Message
}

// Client issues completion requests. It is safe for concurrent use.
type Client struct {
	api       *openai.Client
	transport *http.Transport
	model     string
	baseURL   string
	timeout   time.Duration
}

// New creates a client for cfg.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fmt.Errorf("upstream: api url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("upstream: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnections
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnections
	transport.MaxIdleConns = cfg.MaxIdleConnections

	baseURL := BaseURL(cfg.APIURL)
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = &http.Client{Transport: transport}

	return &Client{
		api:       openai.NewClientWithConfig(clientConfig),
		transport: transport,
		model:     cfg.Model,
		baseURL:   baseURL,
		timeout:   cfg.Timeout,
	}, nil
}

// BaseURL strips the chat completions path from a full endpoint URL.
func BaseURL(apiURL string) string {
	u := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	return strings.TrimSuffix(u, chatCompletionsSuffix)
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Endpoint returns the base URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.baseURL
}

// Complete sends one completion request and returns the first choice's
// content. Each call is bounded by the configured timeout. HTTP status
// failures are returned as *UpstreamError; connection failures are marked
// transient for the retry layer.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	params := ParamsFor(req.Task)
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(attemptCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", classify(err, c.model)
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{Status: http.StatusOK, Model: c.model, Message: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the model ids served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.api.ListModels(attemptCtx)
	if err != nil {
		return nil, classify(err, c.model)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
