package completion

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"chatcore/internal/domain"
)

// BuildRequest translates the history, settings and tool configuration of
// one round into a provider request. It fails with ErrInvalidConfiguration
// before any network call when the settings violate a precondition.
func BuildRequest(
	history *domain.ChatHistory,
	settings *domain.ExecutionSettings,
	cfg ToolCallingConfig,
	defaultModel string,
) (domain.ChatRequest, error) {
	const op = "completion.BuildRequest"

	if settings == nil {
		settings = &domain.ExecutionSettings{}
	}
	if history == nil {
		history = domain.NewChatHistory()
	}
	if err := validateSettings(settings, cfg); err != nil {
		return domain.ChatRequest{}, domain.NewDomainError(op, domain.ErrInvalidConfiguration, err.Error())
	}

	req := domain.ChatRequest{
		Model:            settings.ModelID,
		MaxTokens:        settings.MaxTokens,
		Temperature:      settings.Temperature,
		TopP:             settings.TopP,
		PresencePenalty:  settings.PresencePenalty,
		FrequencyPenalty: settings.FrequencyPenalty,
		Stop:             settings.StopSequences,
		Seed:             settings.Seed,
		User:             settings.User,
		Logprobs:         settings.Logprobs,
		TopLogprobs:      settings.TopLogprobs,
		ResponseFormat:   settings.ResponseFormat,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if n := settings.Candidates(); n > 1 {
		req.N = n
	}

	if settings.ChatSystemPrompt != "" && !history.HasRole(domain.RoleSystem) {
		req.Messages = append(req.Messages, domain.WireMessage{Role: domain.RoleSystem, Content: settings.ChatSystemPrompt})
	}
	if settings.ChatDeveloperPrompt != "" && !history.HasRole(domain.RoleDeveloper) {
		req.Messages = append(req.Messages, domain.WireMessage{Role: domain.RoleDeveloper, Content: settings.ChatDeveloperPrompt})
	}
	for _, m := range history.Messages() {
		req.Messages = append(req.Messages, wireMessages(m)...)
	}

	if len(cfg.Tools) > 0 {
		req.Tools = cfg.Tools
		req.ToolChoice = cfg.ToolChoice()
		req.ParallelToolCalls = cfg.ParallelToolCalls
	}
	return req, nil
}

func validateSettings(s *domain.ExecutionSettings, cfg ToolCallingConfig) error {
	if s.MaxTokens != nil && *s.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be at least 1, got %d", *s.MaxTokens)
	}
	n := s.Candidates()
	if n < domain.MinResultsPerPrompt || n > domain.MaxResultsPerPrompt {
		return fmt.Errorf("results per prompt must be in [%d, %d], got %d",
			domain.MinResultsPerPrompt, domain.MaxResultsPerPrompt, n)
	}
	if cfg.AutoInvoke && n != 1 {
		return fmt.Errorf("auto-invoke is not supported with %d results per prompt", n)
	}
	if rf := s.ResponseFormat; rf != nil {
		switch rf.Type {
		case domain.ResponseFormatText, domain.ResponseFormatJSONObject:
		case domain.ResponseFormatJSONSchema:
			if len(rf.Schema) == 0 {
				return fmt.Errorf("response format %q requires a schema", rf.Type)
			}
			if _, err := jsonschema.NewCompiler().Compile([]byte(rf.Schema)); err != nil {
				return fmt.Errorf("response format schema: %w", err)
			}
		default:
			return fmt.Errorf("unsupported response format %q", rf.Type)
		}
	}
	return nil
}

// wireMessages maps one history message to its wire form. A tool message
// carrying function results expands to one wire message per result.
func wireMessages(m domain.Message) []domain.WireMessage {
	switch m.Role {
	case domain.RoleTool:
		results := m.FunctionResults()
		if len(results) == 0 {
			return []domain.WireMessage{{
				Role:       domain.RoleTool,
				Content:    m.Text(),
				ToolCallID: m.Metadata[domain.MetadataToolCallID],
			}}
		}
		out := make([]domain.WireMessage, 0, len(results))
		for _, r := range results {
			out = append(out, domain.WireMessage{
				Role:       domain.RoleTool,
				Content:    resultText(r),
				ToolCallID: r.CallID,
			})
		}
		return out

	case domain.RoleAssistant:
		wm := domain.WireMessage{Role: domain.RoleAssistant, Content: m.Text(), Name: m.AuthorName}
		for i, fc := range m.FunctionCalls() {
			wm.ToolCalls = append(wm.ToolCalls, domain.ToolCall{
				Index:     i,
				ID:        fc.ID,
				Type:      domain.ToolTypeFunction,
				Name:      fc.FullyQualifiedName(),
				Arguments: rawArguments(fc),
			})
		}
		return []domain.WireMessage{wm}

	case domain.RoleUser:
		wm := domain.WireMessage{Role: domain.RoleUser, Name: m.AuthorName}
		if parts := contentParts(m.Items); len(parts) > 0 && m.Content == "" {
			wm.Parts = parts
		} else {
			wm.Content = m.Text()
		}
		return []domain.WireMessage{wm}

	default:
		return []domain.WireMessage{{Role: m.Role, Content: m.Text(), Name: m.AuthorName}}
	}
}

func rawArguments(fc domain.FunctionCall) string {
	if fc.RawArguments != "" {
		return fc.RawArguments
	}
	if len(fc.Arguments) == 0 {
		return "{}"
	}
	b, err := json.Marshal(fc.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func contentParts(items []domain.Item) []domain.ContentPart {
	var parts []domain.ContentPart
	for _, it := range items {
		switch v := it.(type) {
		case domain.TextItem:
			parts = append(parts, domain.ContentPart{Type: "text", Text: v.Text})
		case domain.ImageItem:
			p := domain.ContentPart{Type: "image_url", URL: v.URI, MIMEType: v.MIMEType, Detail: v.Detail}
			if p.URL == "" && len(v.Data) > 0 {
				p.URL = dataURI(v.MIMEType, v.Data)
			}
			parts = append(parts, p)
		case domain.AudioItem:
			parts = append(parts, domain.ContentPart{Type: "input_audio", Data: v.Data, MIMEType: v.MIMEType})
		case domain.BinaryItem:
			parts = append(parts, domain.ContentPart{Type: "file", URL: v.URI, Data: v.Data, MIMEType: v.MIMEType})
		}
	}
	return parts
}

func dataURI(mime string, data []byte) string {
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
