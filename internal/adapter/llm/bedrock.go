//go:build bedrock

package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/infra/tracer"
)

const defaultBedrockMaxTokens = 4096

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider implements domain.StreamingLLMProvider via the AWS Bedrock Converse API.
type BedrockProvider struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

var _ domain.StreamingLLMProvider = (*BedrockProvider)(nil)

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain.
func NewBedrockProvider(cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockProviderWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

// newBedrockProviderWithClient creates a BedrockProvider with an injected client (for testing).
func newBedrockProviderWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockProvider{
		name:   name,
		model:  model,
		client: client,
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// Chat implements domain.LLMProvider.
func (p *BedrockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := fromBedrockConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(ctx, p.logger, p.name, result)

	return result, nil
}

// ChatStream implements domain.StreamingLLMProvider.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	output, err := p.client.ConverseStream(ctx, toBedrockConverseStreamInput(req))
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			delta := processBedrockStreamEvent(evt)
			if delta == nil {
				continue
			}
			delta.Model = req.Model
			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- domain.StreamDelta{Err: mapBedrockError(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// --- Bedrock request/response conversion ---

func toBedrockConverseInput(req domain.ChatRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := defaultBedrockMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens:     aws.Int32(int32(maxTokens)),
		StopSequences: req.Stop,
	}
	if req.Temperature != nil {
		input.InferenceConfig.Temperature = aws.Float32(float32(*req.Temperature))
	}
	if req.TopP != nil {
		input.InferenceConfig.TopP = aws.Float32(float32(*req.TopP))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem, domain.RoleDeveloper:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		case domain.RoleTool:
			// Consecutive tool results share one user turn.
			block := toBedrockToolResult(m)
			if n := len(input.Messages); n > 0 && isToolResultTurn(input.Messages[n-1]) {
				input.Messages[n-1].Content = append(input.Messages[n-1].Content, block)
				continue
			}
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{block},
			})
			continue
		}
		if msg := toBedrockMessage(m); msg != nil {
			input.Messages = append(input.Messages, *msg)
		}
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools, req.ToolChoice)
	}

	return input
}

func toBedrockConverseStreamInput(req domain.ChatRequest) *bedrockruntime.ConverseStreamInput {
	ci := toBedrockConverseInput(req)
	return &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
		ToolConfig:      ci.ToolConfig,
	}
}

func isToolResultTurn(m types.Message) bool {
	if m.Role != types.ConversationRoleUser || len(m.Content) == 0 {
		return false
	}
	_, ok := m.Content[0].(*types.ContentBlockMemberToolResult)
	return ok
}

func toBedrockToolResult(m domain.WireMessage) types.ContentBlock {
	return &types.ContentBlockMemberToolResult{
		Value: types.ToolResultBlock{
			ToolUseId: aws.String(m.ToolCallID),
			Content: []types.ToolResultContentBlock{
				&types.ToolResultContentBlockMemberText{Value: m.Content},
			},
		},
	}
}

func toBedrockMessage(m domain.WireMessage) *types.Message {
	msg := &types.Message{}

	switch m.Role {
	case domain.RoleAssistant:
		msg.Role = types.ConversationRoleAssistant
		if m.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc map[string]any
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &inputDoc)
			}
			if inputDoc == nil {
				inputDoc = map[string]any{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(inputDoc),
			}})
		}

	case domain.RoleUser:
		msg.Role = types.ConversationRoleUser
		if len(m.Parts) == 0 {
			msg.Content = []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}}
			break
		}
		for _, part := range m.Parts {
			if block := toBedrockPart(part); block != nil {
				msg.Content = append(msg.Content, block)
			}
		}

	default:
		return nil
	}

	if len(msg.Content) == 0 {
		return nil
	}
	return msg
}

// toBedrockPart converts a content part. Bedrock only accepts inline image
// bytes, so remote image URLs and other media are dropped.
func toBedrockPart(p domain.ContentPart) types.ContentBlock {
	switch p.Type {
	case "text":
		return &types.ContentBlockMemberText{Value: p.Text}
	case "image_url":
		data, mime := p.Data, p.MIMEType
		if len(data) == 0 {
			data, mime = decodeDataURI(p.URL)
		}
		if len(data) == 0 {
			return nil
		}
		_, format, _ := strings.Cut(mime, "/")
		return &types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: types.ImageFormat(format),
			Source: &types.ImageSourceMemberBytes{Value: data},
		}}
	default:
		return nil
	}
}

func decodeDataURI(uri string) ([]byte, string) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, ""
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ""
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, ""
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ""
	}
	return data, mime
}

func toBedrockToolConfig(tools []domain.ToolDefinition, choice *domain.ToolChoice) *types.ToolConfiguration {
	cfg := &types.ToolConfiguration{}
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}

		cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}

	// Bedrock has no "none" choice; leaving ToolChoice unset means auto.
	switch {
	case choice == nil:
	case choice.Function != "":
		cfg.ToolChoice = &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{Name: aws.String(choice.Function)}}
	case choice.Mode == domain.FunctionChoiceRequired:
		cfg.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
	case choice.Mode == domain.FunctionChoiceAuto:
		cfg.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
	}
	return cfg
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.ChatResponse {
	result := &domain.ChatResponse{
		Model:   model,
		Created: time.Now().UTC(),
	}
	if output.Usage != nil {
		result.Usage = bedrockUsage(output.Usage)
	}

	msg := domain.WireMessage{Role: domain.RoleAssistant}
	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				msg.Content += b.Value
			case *types.ContentBlockMemberToolUse:
				msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
					Index:     len(msg.ToolCalls),
					ID:        aws.ToString(b.Value.ToolUseId),
					Type:      domain.ToolTypeFunction,
					Name:      aws.ToString(b.Value.Name),
					Arguments: marshalDocument(b.Value.Input),
				})
			}
		}
	}

	result.Choices = []domain.Choice{{Message: msg, FinishReason: finishReason(output.StopReason)}}
	return result
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

// finishReason maps a Bedrock stop reason onto the OpenAI vocabulary.
func finishReason(r types.StopReason) string {
	switch r {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return "stop"
	case types.StopReasonToolUse:
		return "tool_calls"
	case types.StopReasonMaxTokens:
		return "length"
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return "content_filter"
	default:
		return string(r)
	}
}

// marshalDocument converts a Bedrock document.Interface to JSON text.
func marshalDocument(doc document.Interface) string {
	if doc == nil {
		return "{}"
	}
	var v any
	if err := doc.UnmarshalSmithyDocument(&v); err != nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// processBedrockStreamEvent converts one stream event. Content block indexes
// become tool-call indexes so fragments of one tool use stay together.
func processBedrockStreamEvent(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		return &domain.StreamDelta{Role: domain.Role(e.Value.Role)}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		idx := int(aws.ToInt32(e.Value.ContentBlockIndex))
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &domain.StreamDelta{Content: d.Value}
		case *types.ContentBlockDeltaMemberToolUse:
			return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
				Index:             idx,
				ArgumentsFragment: aws.ToString(d.Value.Input),
			}}}
		}
		return nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return &domain.StreamDelta{ToolCalls: []domain.ToolCallDelta{{
				Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
				ID:    aws.ToString(start.Value.ToolUseId),
				Type:  domain.ToolTypeFunction,
				Name:  aws.ToString(start.Value.Name),
			}}}
		}
		return nil

	case *types.ConverseStreamOutputMemberMessageStop:
		return &domain.StreamDelta{FinishReason: finishReason(e.Value.StopReason)}

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage == nil {
			return nil
		}
		usage := bedrockUsage(e.Value.Usage)
		return &domain.StreamDelta{Usage: &usage}

	default:
		return nil
	}
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	cause := err

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			cause = fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			cause = fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			cause = fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			cause = fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, msg)
		}
	}

	return &domain.CompletionError{Provider: "bedrock", Err: cause}
}
