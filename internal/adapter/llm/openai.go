package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/infra/tracer"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*OpenAIProvider)(nil)
	_ domain.StreamingLLMProvider = (*OpenAIProvider)(nil)
)

// OpenAIProvider implements domain.StreamingLLMProvider for any
// OpenAI-compatible chat completions API.
type OpenAIProvider struct {
	name        string
	model       string
	apiKey      string
	baseURL     string
	streamUsage bool
	client      *http.Client
	logger      *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIProvider{
		name:        cfg.Name,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		streamUsage: cfg.StreamUsage,
		client:      NewHTTPClient(cfg),
		logger:      logger,
	}
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
			tracer.IntAttr("llm.messages", len(req.Messages)),
			tracer.IntAttr("llm.tools", len(req.Tools)),
		),
	)
	defer span.End()

	req.Stream = false
	body, err := json.Marshal(toOpenAIRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromOpenAIResponse(oaiResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(ctx, p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	req.Stream = true

	oaiReq := toOpenAIRequest(req)
	if p.streamUsage {
		oaiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/chat/completions", body, p.headers())
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "llm stream opened", "provider", p.name, "model", req.Model)
	return parseSSEStream(ctx, httpResp.Body, parseOpenAIChunk), nil
}

func (p *OpenAIProvider) headers() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model             string                `json:"model"`
	Messages          []openaiMessage       `json:"messages"`
	Tools             []openaiTool          `json:"tools,omitempty"`
	ToolChoice        any                   `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                 `json:"parallel_tool_calls,omitempty"`
	MaxTokens         *int                  `json:"max_tokens,omitempty"`
	Temperature       *float64              `json:"temperature,omitempty"`
	TopP              *float64              `json:"top_p,omitempty"`
	PresencePenalty   *float64              `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64              `json:"frequency_penalty,omitempty"`
	Stop              []string              `json:"stop,omitempty"`
	Seed              *int64                `json:"seed,omitempty"`
	N                 int                   `json:"n,omitempty"`
	User              string                `json:"user,omitempty"`
	Logprobs          bool                  `json:"logprobs,omitempty"`
	TopLogprobs       *int                  `json:"top_logprobs,omitempty"`
	ResponseFormat    *openaiResponseFormat `json:"response_format,omitempty"`
	Stream            bool                  `json:"stream,omitempty"`
	StreamOptions     *openaiStreamOptions  `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// openaiMessage is a request message. Content is a string, a part list, or
// nil for assistant messages that only carry tool calls.
type openaiMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiContentPart struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	ImageURL   *openaiImageURL   `json:"image_url,omitempty"`
	InputAudio *openaiInputAudio `json:"input_audio,omitempty"`
	File       *openaiFile       `json:"file,omitempty"`
}

type openaiImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openaiInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type openaiFile struct {
	FileData string `json:"file_data,omitempty"`
	FileID   string `json:"file_id,omitempty"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

type openaiNamedToolChoice struct {
	Type     string                 `json:"type"`
	Function openaiToolChoiceTarget `json:"function"`
}

type openaiToolChoiceTarget struct {
	Name string `json:"name"`
}

type openaiResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openaiJSONSchema `json:"json_schema,omitempty"`
}

type openaiJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

type openaiToolCall struct {
	Index    *int                   `json:"index,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Type     string                 `json:"type,omitempty"`
	Function openaiToolCallFunction `json:"function"`
}

type openaiToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openaiResponse struct {
	ID                string         `json:"id"`
	Model             string         `json:"model"`
	Created           int64          `json:"created"`
	Choices           []openaiChoice `json:"choices"`
	Usage             openaiUsage    `json:"usage"`
	SystemFingerprint string         `json:"system_fingerprint"`
}

type openaiResponseMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Name      string           `json:"name"`
	ToolCalls []openaiToolCall `json:"tool_calls"`
}

type openaiChoice struct {
	Index        int                   `json:"index"`
	Message      openaiResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Index        int               `json:"index"`
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Name      string           `json:"name,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

// --- Conversion ---

func toOpenAIRequest(req domain.ChatRequest) openaiRequest {
	oaiReq := openaiRequest{
		Model:             req.Model,
		Messages:          make([]openaiMessage, 0, len(req.Messages)),
		ParallelToolCalls: req.ParallelToolCalls,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		PresencePenalty:   req.PresencePenalty,
		FrequencyPenalty:  req.FrequencyPenalty,
		Stop:              req.Stop,
		Seed:              req.Seed,
		User:              req.User,
		Logprobs:          req.Logprobs,
		TopLogprobs:       req.TopLogprobs,
		Stream:            req.Stream,
	}
	if req.N > 1 {
		oaiReq.N = req.N
	}

	for _, m := range req.Messages {
		oaiReq.Messages = append(oaiReq.Messages, toOpenAIMessage(m))
	}

	for _, t := range req.Tools {
		oaiReq.Tools = append(oaiReq.Tools, openaiTool{
			Type: domain.ToolTypeFunction,
			Function: openaiToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
				Strict:      t.Strict,
			},
		})
	}

	if tc := req.ToolChoice; tc != nil {
		if tc.Function != "" {
			oaiReq.ToolChoice = openaiNamedToolChoice{
				Type:     domain.ToolTypeFunction,
				Function: openaiToolChoiceTarget{Name: tc.Function},
			}
		} else {
			oaiReq.ToolChoice = string(tc.Mode)
		}
	}

	if rf := req.ResponseFormat; rf != nil {
		oaiReq.ResponseFormat = &openaiResponseFormat{Type: string(rf.Type)}
		if rf.Type == domain.ResponseFormatJSONSchema {
			name := rf.Name
			if name == "" {
				name = "response"
			}
			oaiReq.ResponseFormat.JSONSchema = &openaiJSONSchema{Name: name, Schema: rf.Schema, Strict: rf.Strict}
		}
	}

	return oaiReq
}

func toOpenAIMessage(m domain.WireMessage) openaiMessage {
	msg := openaiMessage{
		Role:       string(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	switch {
	case len(m.Parts) > 0:
		parts := make([]openaiContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			parts = append(parts, toOpenAIPart(p))
		}
		msg.Content = parts
	case m.Content != "" || len(m.ToolCalls) == 0:
		msg.Content = m.Content
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
			ID:   tc.ID,
			Type: domain.ToolTypeFunction,
			Function: openaiToolCallFunction{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return msg
}

func toOpenAIPart(p domain.ContentPart) openaiContentPart {
	switch p.Type {
	case "image_url":
		return openaiContentPart{Type: p.Type, ImageURL: &openaiImageURL{URL: p.URL, Detail: p.Detail}}
	case "input_audio":
		return openaiContentPart{Type: p.Type, InputAudio: &openaiInputAudio{
			Data:   base64.StdEncoding.EncodeToString(p.Data),
			Format: audioFormat(p.MIMEType),
		}}
	case "file":
		f := &openaiFile{FileID: p.URL}
		if len(p.Data) > 0 {
			mime := p.MIMEType
			if mime == "" {
				mime = "application/octet-stream"
			}
			f = &openaiFile{FileData: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(p.Data)}
		}
		return openaiContentPart{Type: p.Type, File: f}
	default:
		return openaiContentPart{Type: "text", Text: p.Text}
	}
}

// audioFormat maps an audio MIME type to the format name the API expects.
func audioFormat(mime string) string {
	_, sub, ok := strings.Cut(mime, "/")
	if !ok {
		return "wav"
	}
	switch sub {
	case "mpeg", "mp3":
		return "mp3"
	case "x-wav", "wave":
		return "wav"
	default:
		return sub
	}
}

func fromOpenAIResponse(resp openaiResponse) *domain.ChatResponse {
	result := &domain.ChatResponse{
		ID:                resp.ID,
		Model:             resp.Model,
		SystemFingerprint: resp.SystemFingerprint,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if resp.Created > 0 {
		result.Created = time.Unix(resp.Created, 0).UTC()
	}

	for _, c := range resp.Choices {
		msg := domain.WireMessage{
			Role:    domain.Role(c.Message.Role),
			Content: c.Message.Content,
			Name:    c.Message.Name,
		}
		for i, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				Index:     i,
				ID:        tc.ID,
				Type:      tc.Type,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		result.Choices = append(result.Choices, domain.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: c.FinishReason,
		})
	}

	return result
}

// parseOpenAIChunk converts one streamed chat.completion.chunk. Chunks
// carrying several choices are reduced to the first one.
func parseOpenAIChunk(data []byte) (*domain.StreamDelta, error) {
	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}

	delta := &domain.StreamDelta{ResponseID: chunk.ID, Model: chunk.Model}
	if len(chunk.Choices) > 0 {
		c := chunk.Choices[0]
		delta.ChoiceIndex = c.Index
		delta.Role = domain.Role(c.Delta.Role)
		delta.AuthorName = c.Delta.Name
		delta.Content = c.Delta.Content
		for i, tc := range c.Delta.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			delta.ToolCalls = append(delta.ToolCalls, domain.ToolCallDelta{
				Index:             idx,
				ID:                tc.ID,
				Type:              tc.Type,
				Name:              tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
			})
		}
		if c.FinishReason != nil {
			delta.FinishReason = *c.FinishReason
		}
	}
	if chunk.Usage != nil {
		delta.Usage = &domain.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return delta, nil
}
