package tool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	_ "time/tzdata"

	"chatcore/internal/domain"
)

// Builtin plugin names.
const (
	PluginMath = "math"
	PluginTime = "time"
)

type binaryParams struct {
	A float64 `json:"a" jsonschema:"required,description=Left operand"`
	B float64 `json:"b" jsonschema:"required,description=Right operand"`
}

type roundParams struct {
	Value    float64 `json:"value" jsonschema:"required,description=Number to round"`
	Decimals int     `json:"decimals,omitempty" jsonschema:"minimum=0,maximum=15,description=Digits after the decimal point"`
}

type timezoneParams struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone such as Europe/Paris; defaults to UTC"`
}

type durationParams struct {
	From string `json:"from" jsonschema:"required,description=Start time in RFC 3339"`
	To   string `json:"to" jsonschema:"required,description=End time in RFC 3339"`
}

// MathFunctions returns the arithmetic plugin.
func MathFunctions() []domain.Function {
	binary := func(name, desc string, op func(a, b float64) (float64, error)) domain.Function {
		return MustTypedFunction(name, desc, func(_ context.Context, p binaryParams) (any, error) {
			v, err := op(p.A, p.B)
			if err != nil {
				return nil, err
			}
			return v, nil
		})
	}

	return []domain.Function{
		binary("add", "Adds two numbers.", func(a, b float64) (float64, error) { return a + b, nil }),
		binary("subtract", "Subtracts b from a.", func(a, b float64) (float64, error) { return a - b, nil }),
		binary("multiply", "Multiplies two numbers.", func(a, b float64) (float64, error) { return a * b, nil }),
		binary("divide", "Divides a by b.", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, errors.New("division by zero")
			}
			return a / b, nil
		}),
		MustTypedFunction("round", "Rounds a number to the given number of decimals.", func(_ context.Context, p roundParams) (any, error) {
			if p.Decimals < 0 || p.Decimals > 15 {
				return nil, fmt.Errorf("decimals must be 0-15")
			}
			scale := math.Pow(10, float64(p.Decimals))
			return math.Round(p.Value*scale) / scale, nil
		}),
	}
}

// TimeFunctions returns the clock plugin. now is the time source.
func TimeFunctions(now func() time.Time) []domain.Function {
	if now == nil {
		now = time.Now
	}
	return []domain.Function{
		MustTypedFunction("now", "Returns the current date and time in RFC 3339.", func(_ context.Context, p timezoneParams) (any, error) {
			loc, err := location(p.Timezone)
			if err != nil {
				return nil, err
			}
			return now().In(loc).Format(time.RFC3339), nil
		}),
		MustTypedFunction("today", "Returns the current date as YYYY-MM-DD.", func(_ context.Context, p timezoneParams) (any, error) {
			loc, err := location(p.Timezone)
			if err != nil {
				return nil, err
			}
			return now().In(loc).Format(time.DateOnly), nil
		}),
		MustTypedFunction("duration", "Returns the time elapsed between two RFC 3339 timestamps.", func(_ context.Context, p durationParams) (any, error) {
			from, err := time.Parse(time.RFC3339, p.From)
			if err != nil {
				return nil, fmt.Errorf("invalid from: %w", err)
			}
			to, err := time.Parse(time.RFC3339, p.To)
			if err != nil {
				return nil, fmt.Errorf("invalid to: %w", err)
			}
			d := to.Sub(from)
			return map[string]any{"duration": d.String(), "seconds": d.Seconds()}, nil
		}),
	}
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", name)
	}
	return loc, nil
}

// RegisterBuiltins adds the named builtin plugins to reg.
func RegisterBuiltins(reg *Registry, names []string) error {
	for _, name := range names {
		var fns []domain.Function
		switch name {
		case PluginMath:
			fns = MathFunctions()
		case PluginTime:
			fns = TimeFunctions(nil)
		default:
			return domain.NewDomainError("tool.RegisterBuiltins", domain.ErrInvalidConfiguration, fmt.Sprintf("unknown builtin %q", name))
		}
		if err := reg.AddPlugin(name, fns...); err != nil {
			return err
		}
	}
	return nil
}
