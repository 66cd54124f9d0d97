package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatcore/internal/domain"
	"chatcore/internal/infra/tracer"
)

// MaxFilters bounds the length of the invocation filter chain.
const MaxFilters = 32

// invokeCalls answers every function call of msg, in call order, with one
// tool message each. It reports whether a filter asked to end the loop.
// The only error it returns is ctx's.
func (s *Service) invokeCalls(ctx context.Context, chain *callChain, history *domain.ChatHistory, settings *domain.ExecutionSettings, r round, msg domain.Message) (bool, error) {
	calls := msg.FunctionCalls()
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		result, terminate := s.invokeCall(ctx, chain, invocation{
			history:  history,
			settings: settings,
			round:    r,
			call:     call,
			seq:      i,
			count:    len(calls),
		})
		history.Add(toolResultMessage(result))
		if terminate {
			s.deps.Logger.DebugContext(ctx, "function invocation terminated the loop",
				"request_index", r.index, "function", call.FullyQualifiedName())
			s.publish(ctx, domain.EventLoopTerminated, domain.FunctionPayload{
				RequestIndex: r.index, CallID: call.ID, Function: call.FullyQualifiedName(), Terminate: true,
			})
			return true, nil
		}
	}
	return false, nil
}

type invocation struct {
	history  *domain.ChatHistory
	settings *domain.ExecutionSettings
	round    round
	call     domain.FunctionCall
	seq      int
	count    int
}

// invokeCall runs one function call through the filter chain. Every failure
// is returned as the result's Err; it never aborts the round.
func (s *Service) invokeCall(ctx context.Context, chain *callChain, inv invocation) (domain.FunctionResult, bool) {
	call := inv.call
	fqn := call.FullyQualifiedName()
	result := domain.FunctionResult{CallID: call.ID, PluginName: call.PluginName, FunctionName: call.FunctionName}

	switch {
	case !call.IsFunction():
		result.Err = fmt.Errorf("%w: tool type %q", domain.ErrNotFunctionCall, call.CallType)
	case call.Err != nil:
		result.Err = call.Err
	case !inv.round.cfg.AllowAnyRequestedFunction && !inv.round.cfg.HasTool(fqn):
		result.Err = fmt.Errorf("%w: %s", domain.ErrFunctionNotDefined, fqn)
	}
	if result.Err != nil {
		s.deps.Logger.WarnContext(ctx, "function call rejected", "function", fqn, "call_id", call.ID, "error", result.Err)
		return result, false
	}

	fn, err := s.deps.Functions.Function(ctx, call.PluginName, call.FunctionName)
	if err != nil {
		result.Err = fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, fqn)
		s.deps.Logger.WarnContext(ctx, "function call rejected", "function", fqn, "call_id", call.ID, "error", err)
		return result, false
	}

	ctx, span := tracer.StartSpan(ctx, "completion.invoke_function",
		trace.WithAttributes(
			tracer.StringAttr("function.name", fqn),
			tracer.StringAttr("function.call_id", call.ID),
			tracer.IntAttr("completion.request_index", inv.round.index),
		),
	)
	defer span.End()

	ic := &domain.InvocationContext{
		Function:              fn,
		Arguments:             prepareArguments(call.Arguments, inv.round.cfg.RetainArgumentTypes),
		Call:                  call,
		History:               inv.history,
		Settings:              inv.settings,
		RequestSequenceIndex:  inv.round.index,
		FunctionSequenceIndex: inv.seq,
		FunctionCount:         inv.count,
		IsStreaming:           inv.round.streaming,
	}

	s.publish(ctx, domain.EventFunctionInvoking, domain.FunctionPayload{
		RequestIndex: inv.round.index, CallID: call.ID, Function: fqn,
	})
	start := time.Now()
	err = s.runFilters(ctx, chain, ic)
	payload := domain.FunctionPayload{
		RequestIndex: inv.round.index,
		CallID:       call.ID,
		Function:     fqn,
		Terminate:    ic.Terminate,
		DurationMS:   time.Since(start).Milliseconds(),
	}

	if err != nil {
		tracer.RecordError(span, err)
		s.deps.Logger.WarnContext(ctx, "function invocation failed", "function", fqn, "call_id", call.ID, "error", err)
		result.Err = err
		payload.Error = err.Error()
	} else {
		tracer.SetOK(span)
		result.Value = ic.Result
	}
	s.publish(ctx, domain.EventFunctionInvoked, payload)
	return result, ic.Terminate
}

// runFilters runs the filter chain around the function while the call is
// counted in flight. A panicking function is reported as an error.
func (s *Service) runFilters(ctx context.Context, chain *callChain, ic *domain.InvocationContext) (err error) {
	done := chain.enter()
	defer done()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("function panicked: %v", p)
		}
	}()
	return s.next(0)(ctx, ic)
}

// next returns the continuation that runs filter i, or the function itself
// once every filter has been entered.
func (s *Service) next(i int) domain.NextFunc {
	if i >= len(s.deps.Filters) {
		return func(ctx context.Context, ic *domain.InvocationContext) error {
			v, err := ic.Function.Invoke(ctx, ic.Arguments)
			if err != nil {
				return err
			}
			ic.Result = v
			return nil
		}
	}
	f := s.deps.Filters[i]
	return func(ctx context.Context, ic *domain.InvocationContext) error {
		return f.OnFunctionInvocation(ctx, ic, s.next(i+1))
	}
}

// prepareArguments copies args for the function. Unless retain is set,
// every non-string value is replaced by its JSON text.
func prepareArguments(args domain.Arguments, retain bool) domain.Arguments {
	out := args.Clone()
	if out == nil {
		out = domain.Arguments{}
	}
	if retain {
		return out
	}
	for k, v := range out {
		switch tv := v.(type) {
		case string:
		case nil:
			out[k] = ""
		default:
			if b, err := json.Marshal(tv); err == nil {
				out[k] = string(b)
			} else {
				out[k] = fmt.Sprint(tv)
			}
		}
	}
	return out
}

// serializeResult renders a function's return value for the model.
func serializeResult(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case json.RawMessage:
		return string(tv)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// resultText is the text sent to the model for a function result.
func resultText(r domain.FunctionResult) string {
	if r.Err != nil {
		return "Error: " + r.Err.Error()
	}
	return serializeResult(r.Value)
}

func toolResultMessage(r domain.FunctionResult) domain.Message {
	return domain.Message{
		Role:      domain.RoleTool,
		Content:   resultText(r),
		Items:     []domain.Item{r},
		Metadata:  map[string]string{domain.MetadataToolCallID: r.CallID},
		Timestamp: time.Now(),
	}
}
