package completion

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/tracer"
)

// GetStreamingChatMessageContents runs the completion loop with streaming
// responses. Text and tool-call fragments are sent as they arrive; tool
// calls are invoked once a round's stream has ended.
//
// Errors in the settings of the first round are returned directly. Later
// failures arrive as a final item with Err set. The channel is closed when
// the loop ends. The caller must drain the channel or cancel ctx.
//
// If the provider cannot stream, the buffered loop runs instead and each
// final message is sent as one item.
func (s *Service) GetStreamingChatMessageContents(ctx context.Context, history *domain.ChatHistory, settings *domain.ExecutionSettings) (<-chan domain.StreamingMessage, error) {
	const op = "completion.GetStreamingChatMessageContents"
	if history == nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidConfiguration, errNoHistory.Error())
	}

	ctx, chain := withCallChain(ctx)
	sp, canStream := domain.AsStreaming(s.deps.LLM)

	out := make(chan domain.StreamingMessage)
	if !canStream {
		cfg, err := ResolveToolConfig(ctx, s.deps.Functions, settings, history, 0)
		if err != nil {
			return nil, err
		}
		if _, err := BuildRequest(history, settings, cfg, s.deps.DefaultModel); err != nil {
			return nil, err
		}
		go s.bufferedStream(ctx, history, settings, out)
		return out, nil
	}

	first, err := s.prepareRound(ctx, history, settings, 0, true)
	if err != nil {
		return nil, err
	}
	go s.streamLoop(ctx, chain, sp, history, settings, first, out)
	return out, nil
}

func (s *Service) bufferedStream(ctx context.Context, history *domain.ChatHistory, settings *domain.ExecutionSettings, out chan<- domain.StreamingMessage) {
	defer close(out)
	msgs, err := s.GetChatMessageContents(ctx, history, settings)
	if err != nil {
		send(ctx, out, domain.StreamingMessage{Err: err})
		return
	}
	for i := range msgs {
		if !send(ctx, out, streamingFromMessage(&msgs[i])) {
			return
		}
	}
}

func (s *Service) streamLoop(
	ctx context.Context,
	chain *callChain,
	sp domain.StreamingLLMProvider,
	history *domain.ChatHistory,
	settings *domain.ExecutionSettings,
	r round,
	out chan<- domain.StreamingMessage,
) {
	defer close(out)

	ctx, span := tracer.StartSpan(ctx, "completion.stream",
		trace.WithAttributes(tracer.StringAttr("llm.provider", sp.Name())),
	)
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return
		}

		acc, ok := s.streamRound(ctx, sp, r, out)
		if !ok {
			tracer.RecordError(span, ctx.Err())
			return
		}
		if acc == nil {
			// the failure was already sent
			return
		}

		msg := acc.build()
		calls := msg.FunctionCalls()
		s.reportUsage(ctx, r, acc.responseID, acc.model, acc.totalUsage())
		s.roundCompleted(ctx, r, msg, len(calls))

		if !r.cfg.AutoInvoke || len(calls) == 0 {
			tracer.SetOK(span)
			return
		}

		history.Add(msg)
		terminate, err := s.invokeCalls(ctx, chain, history, settings, r, msg)
		if err != nil {
			tracer.RecordError(span, err)
			return
		}
		if terminate {
			last, _ := history.Last()
			final := streamingFromMessage(&last)
			final.RequestIndex = r.index
			send(ctx, out, final)
			tracer.SetOK(span)
			return
		}

		next, err := s.prepareRound(ctx, history, settings, r.index+1, true)
		if err != nil {
			tracer.RecordError(span, err)
			send(ctx, out, domain.StreamingMessage{RequestIndex: r.index + 1, Err: err})
			return
		}
		r = next
	}
}

// streamRound sends one streaming request and forwards its deltas. It returns
// the round's accumulator, or nil after sending a transport failure. ok is
// false when ctx ended the round.
func (s *Service) streamRound(ctx context.Context, sp domain.StreamingLLMProvider, r round, out chan<- domain.StreamingMessage) (acc *streamAccumulator, ok bool) {
	ctx, span := tracer.StartSpan(ctx, "completion.round",
		trace.WithAttributes(tracer.IntAttr("completion.request_index", r.index)),
	)
	defer span.End()

	deltas, err := sp.ChatStream(ctx, r.req)
	if err != nil {
		cerr := s.completionFailed(ctx, r, err, "", nil)
		tracer.RecordError(span, cerr)
		return nil, send(ctx, out, domain.StreamingMessage{RequestIndex: r.index, Err: cerr})
	}

	acc = newStreamAccumulator()
	for d := range deltas {
		if d.Err != nil {
			cerr := s.completionFailed(ctx, r, d.Err, acc.responseID, acc.usage)
			tracer.RecordError(span, cerr)
			return nil, send(ctx, out, domain.StreamingMessage{RequestIndex: r.index, ResponseID: acc.responseID, Err: cerr})
		}
		acc.addDelta(d)
		if isEmptyDelta(d) {
			continue
		}
		s.publish(ctx, domain.EventStreamDelta, domain.StreamDeltaPayload{
			RequestIndex: r.index, Content: d.Content, ToolCalls: len(d.ToolCalls),
		})
		if !send(ctx, out, streamingFromDelta(d, r.index)) {
			return nil, false
		}
	}
	if ctx.Err() != nil {
		return nil, false
	}
	if !acc.complete() {
		cause := fmt.Errorf("%w: stream ended without a finish reason", domain.ErrProviderUnavailable)
		if acc.deltas == 0 {
			cause = fmt.Errorf("%w: stream carried no deltas", domain.ErrProviderUnavailable)
		}
		cerr := s.completionFailed(ctx, r, cause, acc.responseID, acc.usage)
		tracer.RecordError(span, cerr)
		return nil, send(ctx, out, domain.StreamingMessage{RequestIndex: r.index, ResponseID: acc.responseID, Err: cerr})
	}
	return acc, true
}

func isEmptyDelta(d domain.StreamDelta) bool {
	return d.Content == "" && len(d.ToolCalls) == 0 && d.FinishReason == "" && d.Usage == nil && d.Role == "" && d.AuthorName == ""
}

func streamingFromDelta(d domain.StreamDelta, requestIndex int) domain.StreamingMessage {
	sm := domain.StreamingMessage{
		Role:         d.Role,
		AuthorName:   d.AuthorName,
		Content:      d.Content,
		FinishReason: d.FinishReason,
		ModelID:      d.Model,
		ResponseID:   d.ResponseID,
		ChoiceIndex:  d.ChoiceIndex,
		Usage:        d.Usage,
		RequestIndex: requestIndex,
	}
	for _, tc := range d.ToolCalls {
		sm.Calls = append(sm.Calls, domain.FunctionCallUpdate{
			Index:             tc.Index,
			CallID:            tc.ID,
			Name:              tc.Name,
			ArgumentsFragment: tc.ArgumentsFragment,
		})
	}
	return sm
}

func streamingFromMessage(m *domain.Message) domain.StreamingMessage {
	sm := domain.StreamingMessage{
		Role:       m.Role,
		AuthorName: m.AuthorName,
		Content:    m.Text(),
		ModelID:    m.ModelID,
		Message:    m,
	}
	if c := m.Completion; c != nil {
		sm.FinishReason = c.FinishReason
		sm.ResponseID = c.ResponseID
		sm.ChoiceIndex = c.ChoiceIndex
		sm.Usage = c.Usage
	}
	for i, fc := range m.FunctionCalls() {
		sm.Calls = append(sm.Calls, domain.FunctionCallUpdate{
			Index:             i,
			CallID:            fc.ID,
			Name:              fc.FullyQualifiedName(),
			ArgumentsFragment: rawArguments(fc),
		})
	}
	return sm
}

// send delivers m unless ctx is done first.
func send(ctx context.Context, out chan<- domain.StreamingMessage, m domain.StreamingMessage) bool {
	select {
	case out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}
