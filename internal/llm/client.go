// Package llm talks to the hosted model provider and turns its replies into
// structured module definitions.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/internal/config"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const azureScope = "https://cognitiveservices.azure.com/.default"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request. System, when set, is prepended as a
// system message.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client sends completion requests to a model provider.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPClient implements Client against the OpenAI chat completions API, in
// both its public and Azure-hosted forms. Azure deployments authenticate with
// an API key when one is configured, otherwise with Entra ID via the default
// credential chain.
type HTTPClient struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	log        *logger.Logger

	mu          sync.Mutex
	lastRequest time.Time

	credMu sync.Mutex
	cred   azcore.TokenCredential
	token  azcore.AccessToken
}

// NewHTTPClient builds a client for the configured provider.
func NewHTTPClient(cfg config.LLMConfig, log *logger.Logger) (*HTTPClient, error) {
	if log == nil {
		log = logger.NewDefault("llm")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: api key required for provider %q", cfg.Provider)
		}
	case config.ProviderAzure:
		if cfg.APIKey == "" {
			cred, err := azidentity.NewDefaultAzureCredential(nil)
			if err != nil {
				return nil, fmt.Errorf("llm: build azure credential: %w", err)
			}
			c.cred = cred
		}
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return c, nil
}

// Complete sends req and returns the model's reply with surrounding
// whitespace trimmed. Transient failures (429 and 5xx) are retried with
// exponential backoff.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (reply string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordLLMRequest(c.cfg.Provider, time.Since(start), err)
	}()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	c.throttle()

	body, err := json.Marshal(c.wireRequest(req))
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, retry, err := c.send(ctx, body)
		if err == nil {
			c.log.WithFields(logger.Fields{
				"provider":    c.cfg.Provider,
				"duration_ms": time.Since(start).Milliseconds(),
				"reply_len":   len(reply),
			}).Debug("completion finished")
			return reply, nil
		}
		if !retry {
			return "", err
		}
		lastErr = err
		c.log.WithError(err).WithField("attempt", attempt+1).Warn("completion attempt failed")
	}
	return "", fmt.Errorf("llm: max retries exceeded: %w", lastErr)
}

// send performs one request attempt. The second return value reports whether
// the failure is worth retrying.
func (c *HTTPClient) send(ctx context.Context, body []byte) (string, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, httpReq); err != nil {
		return "", false, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("llm: provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("llm: provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("llm: parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("llm: no completion returned")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), false, nil
}

// throttle enforces the configured minimum interval between requests.
func (c *HTTPClient) throttle() {
	if c.cfg.MinInterval <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < c.cfg.MinInterval {
		time.Sleep(c.cfg.MinInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

func (c *HTTPClient) wireRequest(req Request) wireRequest {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	wr := wireRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	// Azure routes by deployment, not by model name.
	if c.cfg.Provider == config.ProviderOpenAI {
		wr.Model = c.cfg.Model
	}
	return wr
}

func (c *HTTPClient) url() string {
	if c.cfg.Provider == config.ProviderAzure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

func (c *HTTPClient) authorize(ctx context.Context, req *http.Request) error {
	if c.cfg.Provider == config.ProviderAzure {
		if c.cfg.APIKey != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
			return nil
		}
		token, err := c.azureToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return nil
}

// azureToken returns a cached Entra ID token, refreshing it shortly before
// expiry.
func (c *HTTPClient) azureToken(ctx context.Context) (string, error) {
	c.credMu.Lock()
	defer c.credMu.Unlock()
	if c.token.Token != "" && time.Until(c.token.ExpiresOn) > 2*time.Minute {
		return c.token.Token, nil
	}
	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{azureScope}})
	if err != nil {
		return "", fmt.Errorf("llm: acquire azure token: %w", err)
	}
	c.token = token
	return token.Token, nil
}

type wireRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
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
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}
