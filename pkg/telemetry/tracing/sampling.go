package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// SamplerAlways samples all traces
	SamplerAlways = "always"

	// SamplerNever samples no traces
	SamplerNever = "never"

	// SamplerRatio samples a fraction of gateway traffic. Operator actions
	// are always kept.
	SamplerRatio = "ratio"
)

// operatorSpans are root spans started by admin and CLI operations. They
// are rare and usually the thing being debugged.
var operatorSpans = map[string]bool{
	"limits.StatusOf": true,
	"limits.ResetKey": true,
	"reaper.Sweep":    true,
}

// createSampler builds the sampler for strategy. Every sampler is
// ParentBased, so a span follows its parent's decision and only roots are
// decided here. Store spans therefore always match their request.
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	switch strategy {
	case SamplerAlways:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case SamplerNever:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case SamplerRatio, "":
		if ratio < 0.0 || ratio > 1.0 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		return sdktrace.ParentBased(&operatorSampler{
			traffic: sdktrace.TraceIDRatioBased(ratio),
		}), nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio)", strategy)
	}
}

// operatorSampler keeps every operator span and samples the rest by trace
// id ratio.
type operatorSampler struct {
	traffic sdktrace.Sampler
}

func (s *operatorSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if operatorSpans[p.Name] {
		return sdktrace.SamplingResult{
			Decision:   sdktrace.RecordAndSample,
			Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
		}
	}
	return s.traffic.ShouldSample(p)
}

func (s *operatorSampler) Description() string {
	return fmt.Sprintf("OperatorSampler{%s}", s.traffic.Description())
}
