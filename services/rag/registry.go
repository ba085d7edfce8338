package rag

import (
	"context"
	"fmt"
	"log"

	"coursechat/models"

	"github.com/anthropics/anthropic-sdk-go"
)

// ToolRegistry holds the callable capabilities by name and aggregates their
// source provenance. Registration order is preserved and drives both the
// definition list sent to the model and source aggregation order.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool under its declared name. An empty name or a name that
// is already taken is a wiring defect and fails rather than overwriting.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return ErrMissingToolName
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Definitions returns every registered tool's Anthropic spec in registration
// order.
func (r *ToolRegistry) Definitions() []anthropic.ToolUnionParam {
	specs := make([]anthropic.ToolUnionParam, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		specs = append(specs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name(),
				Description: anthropic.String(tool.Description()),
				InputSchema: tool.GetAnthropicToolSpec(),
			},
		})
	}
	return specs
}

// Execute dispatches to the named tool and returns its textual result. An
// unknown name or a failing tool produces result text rather than an error so
// the outcome can always be relayed back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, name, input string) string {
	tool, ok := r.tools[name]
	if !ok {
		log.Printf("[ERROR] Requested tool not registered: %s", name)
		return fmt.Sprintf("Tool '%s' not found", name)
	}

	result, err := tool.Call(ctx, input)
	if err != nil {
		log.Printf("[ERROR] Tool %s execution failed: %v", name, err)
		return fmt.Sprintf("Error: %v", err)
	}
	return result
}

// LastSources concatenates every tool's held sources in registration order.
func (r *ToolRegistry) LastSources() []models.Source {
	var sources []models.Source
	for _, name := range r.order {
		sources = append(sources, r.tools[name].LastSources()...)
	}
	return sources
}

// ResetSources clears every tool's held sources. Callers must read sources
// before resetting; the orchestrator does this once per query.
func (r *ToolRegistry) ResetSources() {
	for _, name := range r.order {
		r.tools[name].ResetSources()
	}
}
