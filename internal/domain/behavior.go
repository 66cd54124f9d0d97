package domain

import "math"

// DefaultMaxAutoInvokeAttempts bounds the number of rounds in which tool calls
// are executed automatically when a behavior does not set its own limit.
const DefaultMaxAutoInvokeAttempts = 128

// Unlimited marks a round limit that never triggers.
const Unlimited = math.MaxInt

// FunctionChoice tells the model whether, and how, it may call functions.
type FunctionChoice string

const (
	FunctionChoiceNone     FunctionChoice = "none"
	FunctionChoiceAuto     FunctionChoice = "auto"
	FunctionChoiceRequired FunctionChoice = "required"
)

// --- Legacy tool-call behavior ---

// ToolCallMode selects one of the legacy tool-call behaviors.
type ToolCallMode int

const (
	// ToolCallEnableKernelFunctions advertises every provider function without invoking them.
	ToolCallEnableKernelFunctions ToolCallMode = iota + 1
	// ToolCallAutoInvokeKernelFunctions advertises and invokes every provider function.
	ToolCallAutoInvokeKernelFunctions
	// ToolCallEnableFunctions advertises an explicit function list.
	ToolCallEnableFunctions
	// ToolCallRequireFunction forces the model to call a single function.
	ToolCallRequireFunction
)

// ToolCallBehavior is the legacy tool-calling configuration.
type ToolCallBehavior struct {
	Mode                  ToolCallMode
	Functions             []FunctionMetadata
	MaxAutoInvokeAttempts int
	// MaxUseAttempts is the number of rounds in which tools are advertised; 0 means unlimited.
	MaxUseAttempts int
}

// EnableKernelFunctions advertises the full catalogue; calls are returned to the caller.
func EnableKernelFunctions() *ToolCallBehavior {
	return &ToolCallBehavior{Mode: ToolCallEnableKernelFunctions}
}

// AutoInvokeKernelFunctions advertises the full catalogue and invokes requested functions.
func AutoInvokeKernelFunctions() *ToolCallBehavior {
	return &ToolCallBehavior{
		Mode:                  ToolCallAutoInvokeKernelFunctions,
		MaxAutoInvokeAttempts: DefaultMaxAutoInvokeAttempts,
	}
}

// EnableFunctions advertises fns only.
func EnableFunctions(fns []FunctionMetadata, autoInvoke bool) *ToolCallBehavior {
	b := &ToolCallBehavior{Mode: ToolCallEnableFunctions, Functions: fns}
	if autoInvoke {
		b.MaxAutoInvokeAttempts = DefaultMaxAutoInvokeAttempts
	}
	return b
}

// RequireFunction forces a call to fn on the first round only.
func RequireFunction(fn FunctionMetadata, autoInvoke bool) *ToolCallBehavior {
	b := &ToolCallBehavior{
		Mode:           ToolCallRequireFunction,
		Functions:      []FunctionMetadata{fn},
		MaxUseAttempts: 1,
	}
	if autoInvoke {
		b.MaxAutoInvokeAttempts = 1
	}
	return b
}

// AllowAnyRequestedFunction reports whether calls outside the advertised list may run.
func (b *ToolCallBehavior) AllowAnyRequestedFunction() bool {
	return b.Mode == ToolCallEnableKernelFunctions || b.Mode == ToolCallAutoInvokeKernelFunctions
}

// UseAttempts returns the effective max-use-attempts.
func (b *ToolCallBehavior) UseAttempts() int {
	if b.MaxUseAttempts <= 0 {
		return Unlimited
	}
	return b.MaxUseAttempts
}

// --- Function-choice behavior ---

// FunctionChoiceOptions tunes a FunctionChoiceBehavior.
type FunctionChoiceOptions struct {
	// AllowParallelCalls is sent as parallel_tool_calls when set.
	AllowParallelCalls *bool
	// AllowStrictSchemaAdherence marks advertised tools as strict.
	AllowStrictSchemaAdherence bool
	// RetainArgumentTypes passes decoded argument values through unchanged
	// instead of coercing non-string values to their JSON text.
	RetainArgumentTypes bool
}

// FunctionChoiceBehavior is the function-choice tool configuration.
type FunctionChoiceBehavior struct {
	Choice FunctionChoice
	// Functions restricts the catalogue to these fully-qualified names; nil means all.
	Functions  []string
	AutoInvoke bool
	// MaxAutoInvokeAttempts defaults to DefaultMaxAutoInvokeAttempts when zero.
	MaxAutoInvokeAttempts int
	// MaxUseAttempts defaults to unlimited, or 1 for FunctionChoiceRequired, when zero.
	MaxUseAttempts int
	Options        FunctionChoiceOptions
}

// AutoFunctionChoice lets the model decide whether to call functions.
func AutoFunctionChoice(autoInvoke bool, functions ...string) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{Choice: FunctionChoiceAuto, Functions: functions, AutoInvoke: autoInvoke}
}

// RequiredFunctionChoice forces the model to call at least one function.
func RequiredFunctionChoice(autoInvoke bool, functions ...string) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{Choice: FunctionChoiceRequired, Functions: functions, AutoInvoke: autoInvoke}
}

// NoneFunctionChoice advertises functions the model must not call.
func NoneFunctionChoice(functions ...string) *FunctionChoiceBehavior {
	return &FunctionChoiceBehavior{Choice: FunctionChoiceNone, Functions: functions}
}

// AutoInvokeAttempts returns the effective max-auto-invoke-attempts.
func (b *FunctionChoiceBehavior) AutoInvokeAttempts() int {
	if b.MaxAutoInvokeAttempts <= 0 {
		return DefaultMaxAutoInvokeAttempts
	}
	return b.MaxAutoInvokeAttempts
}

// UseAttempts returns the effective max-use-attempts.
func (b *FunctionChoiceBehavior) UseAttempts() int {
	if b.MaxUseAttempts > 0 {
		return b.MaxUseAttempts
	}
	if b.Choice == FunctionChoiceRequired {
		return 1
	}
	return Unlimited
}
