package completion

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain"
)

// callIDNamespace seeds the name-based IDs given to tool calls that arrive
// without one, so interpreting the same response twice yields the same IDs.
var callIDNamespace = uuid.MustParse("6f0c4b1e-3f7a-4c1d-9a52-2d8e0b7c1a90")

// InterpretResponse converts a buffered response into one assistant message
// per choice. Tool calls become FunctionCall items; a call whose arguments
// are not valid JSON carries Err instead of failing the whole response.
func InterpretResponse(resp *domain.ChatResponse) []domain.Message {
	if resp == nil {
		return nil
	}
	msgs := make([]domain.Message, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		info := &domain.CompletionInfo{
			ResponseID:        resp.ID,
			ChoiceIndex:       ch.Index,
			FinishReason:      ch.FinishReason,
			SystemFingerprint: resp.SystemFingerprint,
			Created:           resp.Created,
			Usage:             new(resp.Usage),
		}
		msgs = append(msgs, assistantMessage(
			ch.Message.Role, ch.Message.Name, ch.Message.Content, resp.Model, info, ch.Message.ToolCalls,
		))
	}
	return msgs
}

// assistantMessage builds the in-memory form of one model reply. It is
// shared by the buffered and the streaming path.
func assistantMessage(role domain.Role, author, content, model string, info *domain.CompletionInfo, calls []domain.ToolCall) domain.Message {
	if role == "" {
		role = domain.RoleAssistant
	}
	msg := domain.Message{
		Role:       role,
		Content:    content,
		AuthorName: author,
		ModelID:    model,
		Completion: info,
		Timestamp:  info.Created,
	}
	if info.ResponseID != "" {
		msg.Metadata = map[string]string{domain.MetadataResponseID: info.ResponseID}
	}
	for _, tc := range calls {
		msg.Items = append(msg.Items, functionCallFromWire(info.ResponseID, info.ChoiceIndex, tc))
	}
	return msg
}

func functionCallFromWire(responseID string, choiceIndex int, tc domain.ToolCall) domain.FunctionCall {
	plugin, name := domain.ParseFullyQualifiedName(tc.Name)
	fc := domain.FunctionCall{
		ID:           tc.ID,
		CallType:     tc.Type,
		PluginName:   plugin,
		FunctionName: name,
		RawArguments: tc.Arguments,
	}
	if fc.ID == "" {
		fc.ID = syntheticCallID(responseID, choiceIndex, tc)
	}
	args, err := parseArguments(tc.Arguments)
	if err != nil {
		fc.Err = fmt.Errorf("%w: %v", domain.ErrInvalidArguments, err)
		return fc
	}
	fc.Arguments = args
	return fc
}

func syntheticCallID(responseID string, choiceIndex int, tc domain.ToolCall) string {
	key := responseID + "/" + strconv.Itoa(choiceIndex) + "/" + strconv.Itoa(tc.Index) + "/" + tc.Name + "/" + tc.Arguments
	return "call_" + strings.ReplaceAll(uuid.NewSHA1(callIDNamespace, []byte(key)).String(), "-", "")
}

// parseArguments decodes a JSON object of named arguments. Empty text and
// JSON null decode to no arguments.
func parseArguments(raw string) (domain.Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return domain.Arguments{}, nil
	}
	var args domain.Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = domain.Arguments{}
	}
	return args, nil
}

// maxToolCallIndex bounds the tool-call indices the accumulator tracks.
// Fragments with larger indices are dropped.
const maxToolCallIndex = 1024

// toolCallBuilder assembles one streamed tool call.
type toolCallBuilder struct {
	id       string
	callType string
	name     string
	args     strings.Builder
}

func (b *toolCallBuilder) empty() bool {
	return b.id == "" && b.name == "" && b.args.Len() == 0
}

// streamAccumulator collects the deltas of one round into a complete
// message. Only choice 0 is accumulated. A new accumulator is used for
// every round.
type streamAccumulator struct {
	responseID   string
	model        string
	role         domain.Role
	authorName   string
	content      strings.Builder
	calls        map[int]*toolCallBuilder
	finishReason string
	usage        *domain.Usage

	deltas   int
	finished bool
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{calls: make(map[int]*toolCallBuilder)}
}

// addDelta merges a single streaming delta into the accumulator.
func (acc *streamAccumulator) addDelta(d domain.StreamDelta) {
	acc.deltas++
	if d.FinishReason != "" {
		acc.finished = true
	}
	if acc.responseID == "" {
		acc.responseID = d.ResponseID
	}
	if acc.model == "" {
		acc.model = d.Model
	}
	if d.Usage != nil {
		u := *d.Usage
		acc.usage = &u
	}
	if d.ChoiceIndex != 0 {
		return
	}
	if acc.role == "" {
		acc.role = d.Role
	}
	if acc.authorName == "" {
		acc.authorName = d.AuthorName
	}
	acc.content.WriteString(d.Content)

	for _, tc := range d.ToolCalls {
		if tc.Index < 0 || tc.Index >= maxToolCallIndex {
			continue
		}
		b, ok := acc.calls[tc.Index]
		if !ok {
			b = &toolCallBuilder{}
			acc.calls[tc.Index] = b
		}
		if tc.ID != "" {
			b.id = tc.ID
		}
		if tc.Type != "" {
			b.callType = tc.Type
		}
		if tc.Name != "" {
			b.name = tc.Name
		}
		b.args.WriteString(tc.ArgumentsFragment)
	}

	if d.FinishReason != "" {
		acc.finishReason = d.FinishReason
	}
}

// toolCalls flattens the accumulated fragments in index order, dropping
// indices that never received an id, a name or any argument text.
func (acc *streamAccumulator) toolCalls() []domain.ToolCall {
	if len(acc.calls) == 0 {
		return nil
	}
	maxIdx := -1
	for idx := range acc.calls {
		maxIdx = max(maxIdx, idx)
	}
	var out []domain.ToolCall
	for idx := 0; idx <= maxIdx; idx++ {
		b, ok := acc.calls[idx]
		if !ok || b.empty() {
			continue
		}
		out = append(out, domain.ToolCall{
			Index:     idx,
			ID:        b.id,
			Type:      b.callType,
			Name:      b.name,
			Arguments: b.args.String(),
		})
	}
	return out
}

// build returns the accumulated message.
func (acc *streamAccumulator) build() domain.Message {
	info := &domain.CompletionInfo{
		ResponseID:   acc.responseID,
		FinishReason: acc.finishReason,
		Usage:        acc.usage,
	}
	msg := assistantMessage(acc.role, acc.authorName, acc.content.String(), acc.model, info, acc.toolCalls())
	msg.Timestamp = time.Now()
	return msg
}

// complete reports whether the stream carried a reply that ended normally:
// at least one delta, and a finish reason or a usage report.
func (acc *streamAccumulator) complete() bool {
	return acc.deltas > 0 && (acc.finished || acc.usage != nil)
}

// totalUsage returns the last usage reported on the stream.
func (acc *streamAccumulator) totalUsage() domain.Usage {
	if acc.usage == nil {
		return domain.Usage{}
	}
	return *acc.usage
}
