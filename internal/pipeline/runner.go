// Package pipeline executes an ordered list of decision layers over a
// mutable context, short-circuiting on the first rejection.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/obs"
)

// Layer is one stage of a decision pipeline. A layer may reject (halt the
// pipeline) or pass, enriching the context for later layers. Layers must
// not hold shared mutable state across concurrent runs for different
// symbols.
type Layer interface {
	Name() string
	Process(symbol string, context map[string]any) model.LayerResult
}

// Runner runs layers in fixed order. The runner itself is stateless and
// safe to invoke concurrently for different symbols; a single Run executes
// its layers sequentially since later layers depend on earlier context
// mutations.
type Runner struct {
	layers  []Layer
	metrics *obs.Metrics
}

// NewRunner builds a runner over the given layers. metrics may be nil.
func NewRunner(layers []Layer, metrics *obs.Metrics) *Runner {
	return &Runner{layers: layers, metrics: metrics}
}

// Run feeds initial through every layer. It returns false as soon as a
// layer rejects, with the context and reasoning accumulated up to and
// including the rejecting layer. With zero layers it returns true with
// the initial context unchanged and empty reasoning.
func (r *Runner) Run(symbol string, initial map[string]any) (bool, map[string]any, string) {
	r.metrics.IncPipelineRun()
	if len(r.layers) == 0 {
		return true, initial, ""
	}

	context := make(map[string]any, len(initial))
	for k, v := range initial {
		context[k] = v
	}

	var reasoning []string
	for _, layer := range r.layers {
		result := r.process(layer, symbol, context)
		reasoning = append(reasoning, fmt.Sprintf("[%s] %s", layer.Name(), result.Reasoning))
		if result.Context != nil {
			context = result.Context
		}
		if !result.Passed {
			r.metrics.IncPipelineReject()
			logs.Infof("layer %s rejected %s: %s", layer.Name(), symbol, result.Reasoning)
			return false, context, strings.Join(reasoning, "\n")
		}
	}
	return true, context, strings.Join(reasoning, "\n")
}

// process isolates layer panics: a panicking layer is treated as a
// rejection by that layer rather than crashing the caller.
func (r *Runner) process(layer Layer, symbol string, context map[string]any) (result model.LayerResult) {
	defer func() {
		if rec := recover(); rec != nil {
			logs.Errorf("layer %s panicked for %s: %+v", layer.Name(), symbol, rec)
			result = model.LayerResult{
				Passed:    false,
				Context:   context,
				Reasoning: fmt.Sprintf("layer failure: %v", rec),
			}
		}
	}()
	return layer.Process(symbol, context)
}
