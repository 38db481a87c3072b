// Package gemini implements the adapter for Google's Gemini generateContent
// API family. It translates the gateway's abstract request into Gemini's
// contents/parts shape and normalizes usageMetadata back into the uniform
// accounting format.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
	"github.com/000haoji/deep-student-sub000/providers/openaicompat"
)

const (
	ProviderName   = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"

	defaultTimeout = 60 * time.Second
)

// Adapter is a single-model Gemini adapter.
type Adapter struct {
	model   string
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
}

// NewFromConfig builds a Gemini adapter from a resolved configuration.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, gwerrors.NewConfigError(ProviderName, cfg.ModelName, "api key is empty")
	}
	if cfg.ModelName == "" {
		return nil, gwerrors.NewConfigError(ProviderName, "", "model name is empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
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
		model:   cfg.ModelName,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Name returns the backend family identifier.
func (a *Adapter) Name() string { return ProviderName }

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
	FileData   *fileData   `json:"file_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileData struct {
	MimeType string `json:"mime_type,omitempty"`
	FileURI  string `json:"file_uri"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *usageMetadata) normalize() types.Usage {
	if u == nil {
		return types.Usage{}
	}
	usage := types.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func (a *Adapter) buildBody(req *types.AIRequest) *geminiRequest {
	body := &geminiRequest{GenerationConfig: &generationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
	}}
	if req.OutputFormat == types.OutputJSON {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}
	if sys := req.Context["system"]; sys != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}

	for _, m := range req.History {
		role := m.Role
		// Gemini uses "model" where OpenAI-style histories say "assistant".
		if role == "assistant" {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	user := geminiContent{Role: "user"}
	if req.Prompt != "" {
		user.Parts = append(user.Parts, geminiPart{Text: req.Prompt})
	}
	if img := req.Image; img != nil {
		mime := img.MimeType
		if mime == "" {
			mime = "image/png"
		}
		if len(img.Data) > 0 {
			user.Parts = append(user.Parts, geminiPart{InlineData: &inlineData{
				MimeType: mime,
				Data:     base64.StdEncoding.EncodeToString(img.Data),
			}})
		} else if img.URL != "" {
			user.Parts = append(user.Parts, geminiPart{FileData: &fileData{
				MimeType: mime,
				FileURI:  img.URL,
			}})
		}
	}
	body.Contents = append(body.Contents, user)
	return body
}

func (a *Adapter) newHTTPRequest(ctx context.Context, body *geminiRequest, action string, sse bool) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, gwerrors.NewConfigError(ProviderName, a.model, fmt.Sprintf("marshal request: %v", err))
	}

	base, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, gwerrors.NewConfigError(ProviderName, a.model, fmt.Sprintf("parse base url: %v", err))
	}
	base.Path += "/" + apiVersion + "/models/" + url.PathEscape(a.model) + ":" + action
	q := base.Query()
	if sse {
		q.Set("alt", "sse")
	}
	base.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, gwerrors.NewConfigError(ProviderName, a.model, fmt.Sprintf("create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ExecuteTask performs a single-shot generateContent call.
func (a *Adapter) ExecuteTask(ctx context.Context, req *types.AIRequest) (*provider.TaskResult, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildBody(req), "generateContent", false)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerrors.From(err, ProviderName, a.model)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, a.mapError(resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.NewNetworkError(ProviderName, a.model, fmt.Sprintf("read response: %v", err))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, gwerrors.NewResponseParsingError(ProviderName, a.model, fmt.Sprintf("unmarshal response: %v", err))
	}
	if len(parsed.Candidates) == 0 {
		return nil, gwerrors.NewResponseParsingError(ProviderName, a.model, "response has no candidates")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	result := &provider.TaskResult{
		Text:  text.String(),
		Usage: parsed.UsageMetadata.normalize(),
	}
	if req.OutputFormat == types.OutputJSON {
		repaired, err := openaicompat.RepairJSON(result.Text)
		if err != nil {
			return nil, gwerrors.NewResponseParsingError(ProviderName, a.model, fmt.Sprintf("structured output: %v", err))
		}
		result.JSON = repaired
	}
	return result, nil
}

// ExecuteTaskStream starts a streamGenerateContent call with SSE framing.
func (a *Adapter) ExecuteTaskStream(ctx context.Context, req *types.AIRequest) (provider.Stream, error) {
	httpReq, err := a.newHTTPRequest(ctx, a.buildBody(req), "streamGenerateContent", true)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, gwerrors.From(err, ProviderName, a.model)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.mapError(resp.StatusCode, body)
	}

	return newStream(resp.Body, a.model), nil
}

// CheckHealth issues a one-token generateContent probe.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	body := &geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}},
		GenerationConfig: &generationConfig{MaxOutputTokens: 1},
	}
	httpReq, err := a.newHTTPRequest(ctx, body, "generateContent", false)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return gwerrors.From(err, ProviderName, a.model)
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
			Status  string `json:"status"`
		} `json:"error"`
	}
	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return gwerrors.NewAuthenticationError(ProviderName, a.model, message)
	case statusCode == http.StatusTooManyRequests:
		return gwerrors.NewRateLimitError(ProviderName, a.model, message)
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound:
		return gwerrors.NewInvalidRequestError(ProviderName, a.model, message)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return gwerrors.NewNetworkError(ProviderName, a.model, message)
	default:
		return gwerrors.NewAPIError(ProviderName, a.model, statusCode, message)
	}
}
