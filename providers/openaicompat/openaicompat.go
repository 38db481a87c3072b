// Package openaicompat implements the adapter for OpenAI-compatible chat
// APIs. Most backends follow OpenAI's wire format with minor variations,
// so this package is the base other adapters wrap.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint; compatible backends
	// override it through Info or Config.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultTimeout = 60 * time.Second
)

// Info captures the per-backend variations on the OpenAI wire format.
type Info struct {
	Name           string
	DefaultBaseURL string
	ChatEndpoint   string // default "/chat/completions"
	// SupportsImageURL reports whether the backend accepts image URLs
	// directly; otherwise images are shipped as data URLs.
	SupportsImageURL bool
}

// Adapter is a single-model adapter for one OpenAI-compatible backend.
type Adapter struct {
	info    Info
	model   string
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
}

// New builds an adapter from a resolved provider configuration.
func New(info Info, cfg provider.Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, gwerrors.NewConfigError(info.Name, cfg.ModelName, "api key is empty")
	}
	if cfg.ModelName == "" {
		return nil, gwerrors.NewConfigError(info.Name, "", "model name is empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = info.DefaultBaseURL
	}
	if baseURL == "" {
		return nil, gwerrors.NewConfigError(info.Name, cfg.ModelName, "base url is empty")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		info:    info,
		model:   cfg.ModelName,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Name returns the backend family identifier.
func (a *Adapter) Name() string { return a.info.Name }

// Wire format structs, kept to the subset the gateway uses.

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// wireUsage tolerates the token field names different backends use.
type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

func (u *wireUsage) normalize() types.Usage {
	if u == nil {
		return types.Usage{}
	}
	usage := types.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = u.InputTokens
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = u.OutputTokens
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func (a *Adapter) buildBody(req *types.AIRequest, stream bool) *chatRequest {
	messages := make([]chatMessage, 0, len(req.History)+2)

	if sys := req.Context["system"]; sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	user := chatMessage{Role: "user", Content: req.Prompt}
	if req.Image != nil {
		parts := []contentPart{{Type: "text", Text: req.Prompt}}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: a.imageRef(req.Image)}})
		user.Content = parts
	}
	messages = append(messages, user)

	body := &chatRequest{
		Model:       a.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.OutputFormat == types.OutputJSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

func (a *Adapter) imageRef(img *types.ImageInput) string {
	if len(img.Data) > 0 {
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	}
	if a.info.SupportsImageURL {
		return img.URL
	}
	return img.URL
}

func (a *Adapter) newHTTPRequest(ctx context.Context, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.NewConfigError(a.info.Name, a.model, fmt.Sprintf("marshal request: %v", err))
	}

	endpoint := a.info.ChatEndpoint
	if endpoint == "" {
		endpoint = "/chat/completions"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.NewConfigError(a.info.Name, a.model, fmt.Sprintf("create request: %v", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ExecuteTask performs a single-shot chat completion.
func (a *Adapter) ExecuteTask(ctx context.Context, req *types.AIRequest) (*provider.TaskResult, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildBody(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerrors.From(err, a.info.Name, a.model)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, a.mapError(resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewNetworkError(a.info.Name, a.model, fmt.Sprintf("read response: %v", err))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, gwerrors.NewResponseParsingError(a.info.Name, a.model, fmt.Sprintf("unmarshal response: %v", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, gwerrors.NewResponseParsingError(a.info.Name, a.model, "response has no choices")
	}

	result := &provider.TaskResult{
		Text:  parsed.Choices[0].Message.Content,
		Usage: parsed.Usage.normalize(),
	}
	if req.OutputFormat == types.OutputJSON {
		repaired, err := RepairJSON(result.Text)
		if err != nil {
			return nil, gwerrors.NewResponseParsingError(a.info.Name, a.model, fmt.Sprintf("structured output: %v", err))
		}
		result.JSON = repaired
	}
	return result, nil
}

// ExecuteTaskStream starts a streaming chat completion.
func (a *Adapter) ExecuteTaskStream(ctx context.Context, req *types.AIRequest) (provider.Stream, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerrors.From(err, a.info.Name, a.model)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.mapError(resp.StatusCode, body)
	}

	return newSSEStream(resp.Body, a.info.Name, a.model), nil
}

// CheckHealth issues a one-token completion to verify reachability and
// credential validity.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	body := &chatRequest{
		Model:     a.model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	httpReq, err := a.newHTTPRequest(ctx, body)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return gwerrors.From(err, a.info.Name, a.model)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(resp.Body)
		return a.mapError(resp.StatusCode, payload)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (a *Adapter) mapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return gwerrors.NewAuthenticationError(a.info.Name, a.model, message)
	case statusCode == http.StatusTooManyRequests:
		return gwerrors.NewRateLimitError(a.info.Name, a.model, message)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound ||
		statusCode == http.StatusUnprocessableEntity:
		return gwerrors.NewInvalidRequestError(a.info.Name, a.model, message)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return gwerrors.NewNetworkError(a.info.Name, a.model, message)
	default:
		return gwerrors.NewAPIError(a.info.Name, a.model, statusCode, message)
	}
}
