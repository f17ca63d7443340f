// Package toolrt is the tool runtime (spec component C8): central tool
// registration plus per-run idempotency bookkeeping. Grounded on the
// teacher's internal/agent.ToolRegistry (name-keyed map guarded by
// sync.RWMutex, Execute-by-name dispatch) and internal/gateway.ToolManager
// (run-scoped policy enforcement), with the run-scoped ledger carried on an
// explicit RunContext value instead of captured in a closure, matching
// Design Note §9.
package toolrt

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// ToolResult is a tool's outcome, mirroring the teacher's agent.ToolResult
// shape (content string + error flag) so the generation stage can feed it
// back to the model the same way regardless of which tool ran.
type ToolResult struct {
	Content string
	IsError bool
}

// Tool is one callable function exposed to the language model.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte // raw JSON Schema for the input object
	Execute(ctx *RunContext, input json.RawMessage) (ToolResult, error)
}

// DefaultToolNames is the full registered set before any per-agent filter
// (convmodel.AiAgent.ToolsForAgent) is applied, per spec.md §4.8.
func DefaultToolNames() []string {
	return []string{
		"sendVisitorMessage",
		"searchKnowledgeBase",
		"escalateToHuman",
		"setConversationTitle",
		"setPriority",
		"updateSentiment",
	}
}

// Registry is the central tool table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ForAgent applies the §4.8 permission filter and returns the concrete
// Tool values the agent may call this run.
func (r *Registry) ForAgent(agent *convmodel.AiAgent) []Tool {
	names := agent.ToolsForAgent(DefaultToolNames())
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Specs translates Tool values into llmprovider.ToolSpec for a Generate
// request.
func Specs(tools []Tool) []llmprovider.ToolSpec {
	out := make([]llmprovider.ToolSpec, len(tools))
	for i, t := range tools {
		out[i] = llmprovider.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}
	}
	return out
}

// Execute validates input against the tool's JSON Schema (when non-empty)
// and dispatches to it. A schema-validation failure is a fatal (non-error)
// ToolResult, not a Go error, so the model sees the complaint and can
// retry with corrected arguments in a later turn.
func (r *Registry) Execute(rc *RunContext, name string, input json.RawMessage) (ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		return ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}
	if schema := t.Schema(); len(schema) > 0 {
		if err := validateInput(schema, input); err != nil {
			return ToolResult{Content: fmt.Sprintf("invalid input for %s: %v", name, err), IsError: true}, nil
		}
	}
	return t.Execute(rc, input)
}

func validateInput(schemaBytes []byte, input json.RawMessage) error {
	schema, err := jsonschema.CompileString("toolrt://input", string(schemaBytes))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v interface{}
	if len(input) == 0 {
		input = []byte("{}")
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return schema.Validate(v)
}
