// Package convctx implements the context builder (spec component C11):
// it turns a conversation's recent public timeline and visitor record
// into the {messages[], systemPromptSuffix} pair the generation stage
// feeds to the model. The token-budget trim (beyond the MAX_CONTEXT_MESSAGES
// count cap already applied by the DB read) is grounded on and delegates
// to the teacher's internal/context window/truncation helpers
// (NewWindowForModel for the per-model budget, Truncator with the
// oldest-first strategy for the actual drop order), aliased here as
// ctxwindow since that package is itself named "context".
package convctx

import (
	"fmt"
	"strings"

	ctxwindow "github.com/conversationai/pipeline/internal/context"
	"github.com/conversationai/pipeline/internal/db"
	"github.com/conversationai/pipeline/internal/llmprovider"
	"github.com/conversationai/pipeline/pkg/convmodel"
)

// MaxContextMessages is MAX_CONTEXT_MESSAGES from spec.md §4.11.
const MaxContextMessages = 20

// OutputTokenReserve is subtracted from a model's context window before
// checking whether the compiled history fits, leaving headroom for the
// model's own reply.
const OutputTokenReserve = 2000

// Context is the compiled {messages[], systemPromptSuffix} pair.
type Context struct {
	Messages           []llmprovider.Message
	SystemPromptSuffix string
}

// Builder assembles Context from a conversation's history and visitor
// record.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build maps history → chat messages (visitor → user, human/ai →
// assistant; empty bodies and non-message items dropped), trims from the
// oldest end if the result would not fit modelID's context window minus
// OutputTokenReserve, and renders the visitor-context markdown block.
func (b *Builder) Build(history []*convmodel.Message, visitor *db.VisitorContext, modelID string) Context {
	messages := historyToMessages(history)
	messages = fitToWindow(messages, modelID)
	return Context{
		Messages:           messages,
		SystemPromptSuffix: visitorContextBlock(visitor),
	}
}

func historyToMessages(history []*convmodel.Message) []llmprovider.Message {
	out := make([]llmprovider.Message, 0, len(history))
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.BodyMarkdown) == "" {
			continue
		}
		role := llmprovider.RoleUser
		if m.SenderType == convmodel.SenderAIAgent || m.SenderType == convmodel.SenderHumanAgent {
			role = llmprovider.RoleAssistant
		}
		out = append(out, llmprovider.Message{Role: role, Text: m.BodyMarkdown})
	}
	return out
}

// fitToWindow drops oldest messages until the batch fits within modelID's
// window, reserving OutputTokenReserve for the reply. MAX_CONTEXT_MESSAGES
// already bounds the count; this is a secondary safety net for unusually
// long individual messages. The actual drop order is delegated to
// ctxwindow.Truncator with the oldest-first strategy, keeping only the
// single most recent message pinned (the effective trigger must never be
// dropped even if nothing else fits).
func fitToWindow(messages []llmprovider.Message, modelID string) []llmprovider.Message {
	win := ctxwindow.NewWindowForModel(modelID)
	budget := win.Remaining() - OutputTokenReserve
	if budget <= 0 {
		budget = ctxwindow.MinContextWindow
	}
	if len(messages) == 0 {
		return messages
	}

	truncator := ctxwindow.NewTruncator(ctxwindow.TruncateOldest, budget)
	truncator.SetKeepFirst(0)
	truncator.SetKeepLast(1)

	trimmed, _ := truncator.Truncate(toTruncationMessages(messages))
	out := make([]llmprovider.Message, len(trimmed))
	for i, m := range trimmed {
		out[i] = llmprovider.Message{Role: llmprovider.Role(m.Role), Text: m.Content}
	}
	return out
}

func toTruncationMessages(messages []llmprovider.Message) []ctxwindow.Message {
	out := make([]ctxwindow.Message, len(messages))
	for i, m := range messages {
		out[i] = ctxwindow.Message{
			Role:    string(m.Role),
			Content: m.Text,
			Tokens:  ctxwindow.EstimateTokens(m.Text),
		}
	}
	return out
}

// visitorContextBlock renders the markdown block spec.md §4.11 describes:
// name, email, location (city+country), language, timezone, browser,
// device; empty fields omitted; empty string if nothing is known.
func visitorContextBlock(v *db.VisitorContext) string {
	if v == nil {
		return ""
	}
	var lines []string
	if v.Name != "" {
		lines = append(lines, fmt.Sprintf("- Name: %s", v.Name))
	}
	if v.Email != "" {
		lines = append(lines, fmt.Sprintf("- Email: %s", v.Email))
	}
	if loc := location(v.City, v.Country); loc != "" {
		lines = append(lines, fmt.Sprintf("- Location: %s", loc))
	}
	if v.Language != "" {
		lines = append(lines, fmt.Sprintf("- Language: %s", v.Language))
	}
	if v.Timezone != "" {
		lines = append(lines, fmt.Sprintf("- Timezone: %s", v.Timezone))
	}
	if v.Browser != "" {
		lines = append(lines, fmt.Sprintf("- Browser: %s", v.Browser))
	}
	if v.Device != "" {
		lines = append(lines, fmt.Sprintf("- Device: %s", v.Device))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Visitor context:\n" + strings.Join(lines, "\n")
}

func location(city, country string) string {
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	case country != "":
		return country
	default:
		return ""
	}
}
