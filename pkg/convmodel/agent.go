package convmodel

// BehaviorSettings gates which final-turn actions the agent may take.
type BehaviorSettings struct {
	CanResolve          bool
	CanMarkSpam         bool
	CanSetPriority      bool
	CanEscalate         bool
	AutoGenerateTitle   bool
	AutoAnalyzeSentiment bool
}

// AgentMetadata controls tool visibility for a given agent configuration.
type AgentMetadata struct {
	EnabledTools []string // if non-empty, filters the default tool set
	DisableTools bool     // if true, no tools at all are offered
}

// AiAgent is the configured assistant persona for a website/organization.
type AiAgent struct {
	ID              string
	Model           string
	BasePrompt      string
	Temperature     float64
	MaxOutputTokens int
	IsActive        bool

	Metadata         AgentMetadata
	BehaviorSettings BehaviorSettings
}

// ToolsForAgent implements the §4.8 permission filter: disabled entirely
// when DisableTools is set, otherwise filtered to EnabledTools if present.
// Unknown names in EnabledTools are silently ignored; an empty effective
// set (EnabledTools present but none match) disables tool use.
func (a *AiAgent) ToolsForAgent(defaultTools []string) []string {
	if a == nil || a.Metadata.DisableTools {
		return nil
	}
	if len(a.Metadata.EnabledTools) == 0 {
		return defaultTools
	}
	allowed := make(map[string]bool, len(a.Metadata.EnabledTools))
	for _, name := range a.Metadata.EnabledTools {
		allowed[name] = true
	}
	out := make([]string, 0, len(defaultTools))
	for _, name := range defaultTools {
		if allowed[name] {
			out = append(out, name)
		}
	}
	return out
}
