package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/tracer"
)

// Deps holds injected dependencies for the completion service.
type Deps struct {
	LLM          domain.LLMProvider
	Functions    domain.FunctionProvider   // optional, nil = no auto-invoke
	Filters      []domain.InvocationFilter // optional, run in order around every invocation
	Notifier     domain.TelemetryNotifier  // optional, nil = no usage reporting
	Bus          domain.EventBus           // optional, nil = no events
	Logger       *slog.Logger
	DefaultModel string
}

// Service drives multi-round chat completions, invoking the functions the
// model asks for between rounds.
type Service struct {
	deps Deps
}

// NewService creates a completion service. Filters beyond MaxFilters are dropped.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = domain.NopNotifier{}
	}
	if len(deps.Filters) > MaxFilters {
		deps.Logger.Error("too many invocation filters, extra filters ignored",
			"filters", len(deps.Filters), "max", MaxFilters)
		deps.Filters = deps.Filters[:MaxFilters]
	}
	return &Service{deps: deps}
}

// round is the prepared state of one request/response cycle.
type round struct {
	index     int
	cfg       ToolCallingConfig
	req       domain.ChatRequest
	streaming bool
}

var errNoHistory = errors.New("chat history is required")

// GetChatMessageContents runs the buffered completion loop and returns the
// messages of the final round. Assistant and tool turns of intermediate
// rounds are appended to history; the final messages are not.
//
// Configuration and transport errors are returned. Failures of individual
// function calls are recorded in history as tool results instead.
func (s *Service) GetChatMessageContents(ctx context.Context, history *domain.ChatHistory, settings *domain.ExecutionSettings) ([]domain.Message, error) {
	const op = "completion.GetChatMessageContents"
	if history == nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidConfiguration, errNoHistory.Error())
	}

	ctx, span := tracer.StartSpan(ctx, "completion.get_chat_message_contents",
		trace.WithAttributes(tracer.StringAttr("llm.provider", s.deps.LLM.Name())),
	)
	defer span.End()
	ctx, chain := withCallChain(ctx)

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		r, err := s.prepareRound(ctx, history, settings, index, false)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}

		roundCtx, roundSpan := tracer.StartSpan(ctx, "completion.round",
			trace.WithAttributes(tracer.IntAttr("completion.request_index", index)),
		)
		resp, err := s.deps.LLM.Chat(roundCtx, r.req)
		if err != nil {
			roundSpan.End()
			cerr := s.completionFailed(ctx, r, err, "", nil)
			tracer.RecordError(span, cerr)
			return nil, cerr
		}
		roundSpan.End()

		msgs := InterpretResponse(resp)
		s.reportUsage(ctx, r, resp.ID, resp.Model, resp.Usage)
		if len(msgs) == 0 {
			cerr := s.completionFailed(ctx, r, fmt.Errorf("%w: response has no choices", domain.ErrProviderUnavailable), resp.ID, new(resp.Usage))
			tracer.RecordError(span, cerr)
			return nil, cerr
		}

		msg := msgs[0]
		calls := msg.FunctionCalls()
		s.roundCompleted(ctx, r, msg, len(calls))

		if !r.cfg.AutoInvoke || len(calls) == 0 {
			tracer.SetOK(span)
			return msgs, nil
		}

		history.Add(msg)
		terminate, err := s.invokeCalls(ctx, chain, history, settings, r, msg)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		if terminate {
			last, _ := history.Last()
			tracer.SetOK(span)
			return []domain.Message{last}, nil
		}
	}
}

// prepareRound resolves the tool configuration and builds the request of
// round index.
func (s *Service) prepareRound(ctx context.Context, history *domain.ChatHistory, settings *domain.ExecutionSettings, index int, streaming bool) (round, error) {
	cfg, err := ResolveToolConfig(ctx, s.deps.Functions, settings, history, index)
	if err != nil {
		return round{}, err
	}
	if cfg.RecursionLimited {
		s.deps.Logger.WarnContext(ctx, "auto-invoke disabled",
			"request_index", index, "inflight", InflightAutoInvokes(ctx), "error", domain.ErrRecursionLimit)
		s.publish(ctx, domain.EventAutoInvokeDisabled, domain.RoundPayload{RequestIndex: index, Tools: len(cfg.Tools), Streaming: streaming})
	}

	req, err := BuildRequest(history, settings, cfg, s.deps.DefaultModel)
	if err != nil {
		return round{}, err
	}
	req.Stream = streaming

	s.publish(ctx, domain.EventRoundStarted, domain.RoundPayload{
		RequestIndex: index,
		Tools:        len(cfg.Tools),
		AutoInvoke:   cfg.AutoInvoke,
		Streaming:    streaming,
	})
	return round{index: index, cfg: cfg, req: req, streaming: streaming}, nil
}

func (s *Service) roundCompleted(ctx context.Context, r round, msg domain.Message, calls int) {
	var finish string
	if msg.Completion != nil {
		finish = msg.Completion.FinishReason
	}
	tokens := 0
	if msg.Completion != nil && msg.Completion.Usage != nil {
		tokens = msg.Completion.Usage.TotalTokens
	}
	s.deps.Logger.DebugContext(ctx, "completion round",
		"request_index", r.index,
		"function_calls", calls,
		"auto_invoke", r.cfg.AutoInvoke,
		"finish_reason", finish,
		"tokens", tokens,
	)
	s.publish(ctx, domain.EventRoundCompleted, domain.RoundPayload{
		RequestIndex:  r.index,
		Tools:         len(r.cfg.Tools),
		AutoInvoke:    r.cfg.AutoInvoke,
		FunctionCalls: calls,
		FinishReason:  finish,
		Streaming:     r.streaming,
	})
}

func (s *Service) reportUsage(ctx context.Context, r round, responseID, model string, usage domain.Usage) {
	if model == "" {
		model = r.req.Model
	}
	s.deps.Notifier.UsageReported(ctx, domain.UsageReport{
		Provider:     s.deps.LLM.Name(),
		ModelID:      model,
		ResponseID:   responseID,
		RequestIndex: r.index,
		Streaming:    r.streaming,
		Usage:        usage,
	})
}

// completionFailed wraps a transport failure, fills in what is known of the
// partial response and notifies telemetry.
func (s *Service) completionFailed(ctx context.Context, r round, err error, responseID string, usage *domain.Usage) *domain.CompletionError {
	cerr := domain.NewCompletionError(s.deps.LLM.Name(), err)
	if cerr.ResponseID == "" {
		cerr.ResponseID = responseID
	}
	if cerr.Usage == nil {
		cerr.Usage = usage
	}
	s.deps.Logger.ErrorContext(ctx, "completion request failed",
		"provider", cerr.Provider, "request_index", r.index, "response_id", cerr.ResponseID, "error", err)
	s.deps.Notifier.CompletionFailed(ctx, domain.CompletionFailure{
		Provider:     cerr.Provider,
		ModelID:      r.req.Model,
		ResponseID:   cerr.ResponseID,
		RequestIndex: r.index,
		Streaming:    r.streaming,
		Usage:        cerr.Usage,
		Err:          cerr,
	})
	return cerr
}

func (s *Service) publish(ctx context.Context, t domain.EventType, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(ctx, domain.NewEvent(ctx, t, payload))
}
