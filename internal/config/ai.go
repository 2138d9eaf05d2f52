package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AIConfig configures the agent loop and its model providers.
//
// Notes:
//   - Secrets (api keys) must never be stored in this config. Keys are managed via a separate local secrets file.
//   - Field names are snake_case to match the rest of the config surface.
type AIConfig struct {
	// Providers is the provider registry available to the agent.
	//
	// Notes:
	// - Providers own their allowed model list (provider + model are always configured together).
	// - Exactly one provider model must be marked as default via models[].is_default.
	Providers []AIProvider `yaml:"providers,omitempty"`

	// Mode controls the agent behavior.
	//
	// Supported values:
	// - "act": full tool execution flow (default)
	// - "plan": mutating tools are refused; the model proposes a <plan> instead
	Mode string `yaml:"mode,omitempty"`

	// MaxFixAttempts bounds the model round-trips spent repairing one
	// malformed tool call. Defaults to 3, must be in [1,8].
	MaxFixAttempts *int `yaml:"max_fix_attempts,omitempty"`

	// MaxSteps bounds the model steps in one roundtrip. Defaults to 24.
	MaxSteps *int `yaml:"max_steps,omitempty"`

	// MaxToolOutputTokens caps each tool result fed back to the model.
	MaxToolOutputTokens *int `yaml:"max_tool_output_tokens,omitempty"`

	// ThinkingBudgetTokens enables provider reasoning where supported.
	ThinkingBudgetTokens int `yaml:"thinking_budget_tokens,omitempty"`

	// ExecutionPolicy controls execution guardrails.
	//
	// Defaults:
	// - file edits and mutating commands ask for user approval
	// - no dangerous-command hard block
	ExecutionPolicy *AIExecutionPolicy `yaml:"execution_policy,omitempty"`
}

type AIExecutionPolicy struct {
	// RequireUserApproval controls whether mutating tool invocations require
	// user approval. Unset means true; set false to opt out.
	RequireUserApproval *bool `yaml:"require_user_approval,omitempty"`

	// BlockDangerousCommands controls whether dangerous terminal commands are hard-blocked.
	BlockDangerousCommands bool `yaml:"block_dangerous_commands"`

	// AllowCommands are command prefixes that run without approval.
	AllowCommands []string `yaml:"allow_commands,omitempty"`

	// DenyCommands are command prefixes that never run.
	DenyCommands []string `yaml:"deny_commands,omitempty"`
}

type AIProvider struct {
	// ID is a stable internal id (primary key). It must not change once used for secrets/model routing.
	ID string `yaml:"id"`

	// Name is a human-friendly display name (safe to rename at any time).
	Name string `yaml:"name,omitempty"`

	// Type is one of: "openai" | "anthropic" | "openai_compatible".
	Type string `yaml:"type"`

	// BaseURL overrides the provider endpoint (example: "https://api.openai.com/v1").
	// When empty, provider defaults apply (except openai_compatible where base_url is required).
	BaseURL string `yaml:"base_url,omitempty"`

	Models []AIProviderModel `yaml:"models,omitempty"`
}

type AIProviderModel struct {
	ModelName string `yaml:"model_name"`

	// IsDefault marks the single default model across all providers.
	// Exactly one providers[].models[].is_default must be true.
	IsDefault bool `yaml:"is_default,omitempty"`
}

const (
	AIModeAct  = "act"
	AIModePlan = "plan"
)

const (
	defaultAIMaxFixAttempts      = 3
	maxAIMaxFixAttempts          = 8
	defaultAIMaxSteps            = 24
	maxAIMaxSteps                = 200
	defaultAIMaxToolOutputTokens = 8000

	defaultAIRequireUserApproval   = true
	defaultAIBlockDangerousCommand = false
)

func (c *AIConfig) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}

	mode := strings.TrimSpace(strings.ToLower(c.Mode))
	if mode == "" {
		mode = AIModeAct
	}
	switch mode {
	case AIModeAct, AIModePlan:
	default:
		return fmt.Errorf("invalid ai mode %q", c.Mode)
	}

	if c.MaxFixAttempts != nil {
		if *c.MaxFixAttempts < 1 || *c.MaxFixAttempts > maxAIMaxFixAttempts {
			return fmt.Errorf("invalid max_fix_attempts %d (must be in [1,%d])", *c.MaxFixAttempts, maxAIMaxFixAttempts)
		}
	}
	if c.MaxSteps != nil && *c.MaxSteps < 1 {
		return fmt.Errorf("invalid max_steps %d (must be >= 1)", *c.MaxSteps)
	}
	if c.MaxToolOutputTokens != nil && *c.MaxToolOutputTokens < 0 {
		return fmt.Errorf("invalid max_tool_output_tokens %d", *c.MaxToolOutputTokens)
	}
	if c.ThinkingBudgetTokens < 0 {
		return fmt.Errorf("invalid thinking_budget_tokens %d", c.ThinkingBudgetTokens)
	}
	if p := c.ExecutionPolicy; p != nil {
		for i, cmd := range p.AllowCommands {
			if strings.TrimSpace(cmd) == "" {
				return fmt.Errorf("execution_policy.allow_commands[%d]: empty command", i)
			}
		}
		for i, cmd := range p.DenyCommands {
			if strings.TrimSpace(cmd) == "" {
				return fmt.Errorf("execution_policy.deny_commands[%d]: empty command", i)
			}
		}
	}

	// Validate providers.
	if len(c.Providers) == 0 {
		return errors.New("missing providers")
	}
	seen := make(map[string]struct{}, len(c.Providers))
	defaultCount := 0
	for i := range c.Providers {
		p := c.Providers[i]
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("providers[%d]: missing id", i)
		}
		if strings.Contains(id, "/") {
			return fmt.Errorf("providers[%d]: invalid id %q (must not contain /)", i, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("providers[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		t := strings.TrimSpace(p.Type)
		switch t {
		case "openai", "anthropic", "openai_compatible":
		default:
			return fmt.Errorf("providers[%d]: invalid type %q", i, t)
		}

		baseURL := strings.TrimSpace(p.BaseURL)
		if t == "openai_compatible" && baseURL == "" {
			return fmt.Errorf("providers[%d]: base_url is required for openai_compatible", i)
		}
		if baseURL != "" {
			u, err := url.Parse(baseURL)
			if err != nil || u == nil {
				return fmt.Errorf("providers[%d]: invalid base_url: %w", i, err)
			}
			scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
			if scheme != "http" && scheme != "https" {
				return fmt.Errorf("providers[%d]: invalid base_url scheme %q", i, u.Scheme)
			}
			if strings.TrimSpace(u.Host) == "" {
				return fmt.Errorf("providers[%d]: invalid base_url host", i)
			}
		}

		if len(p.Models) == 0 {
			return fmt.Errorf("providers[%d]: missing models", i)
		}
		modelNames := make(map[string]struct{}, len(p.Models))
		for j := range p.Models {
			m := p.Models[j]
			name := strings.TrimSpace(m.ModelName)
			if name == "" {
				return fmt.Errorf("providers[%d].models[%d]: missing model_name", i, j)
			}
			if strings.Contains(name, "/") {
				return fmt.Errorf("providers[%d].models[%d]: invalid model_name %q (must not contain /)", i, j, name)
			}
			if _, ok := modelNames[name]; ok {
				return fmt.Errorf("providers[%d].models[%d]: duplicate model_name %q", i, j, name)
			}
			modelNames[name] = struct{}{}
			if m.IsDefault {
				defaultCount++
			}
		}
	}

	if defaultCount == 0 {
		return errors.New("missing default model (providers[].models[].is_default)")
	}
	if defaultCount > 1 {
		return errors.New("multiple default models (providers[].models[].is_default)")
	}

	return nil
}

// DefaultModelID returns the default model wire id (<provider_id>/<model_name>).
//
// It assumes Validate() has passed. When config is invalid/incomplete, it returns ("", false).
func (c *AIConfig) DefaultModelID() (string, bool) {
	if c == nil {
		return "", false
	}
	for _, p := range c.Providers {
		pid := strings.TrimSpace(p.ID)
		if pid == "" {
			continue
		}
		for _, m := range p.Models {
			if !m.IsDefault {
				continue
			}
			mn := strings.TrimSpace(m.ModelName)
			if mn == "" {
				continue
			}
			return pid + "/" + mn, true
		}
	}
	return "", false
}

// ResolveModel returns the provider and model name for a wire id
// (<provider_id>/<model_name>). An empty id selects the default model.
func (c *AIConfig) ResolveModel(modelID string) (AIProvider, string, error) {
	if c == nil {
		return AIProvider{}, "", errors.New("nil config")
	}
	raw := strings.TrimSpace(modelID)
	if raw == "" {
		def, ok := c.DefaultModelID()
		if !ok {
			return AIProvider{}, "", errors.New("no default model configured")
		}
		raw = def
	}
	pid, mn, ok := strings.Cut(raw, "/")
	pid = strings.TrimSpace(pid)
	mn = strings.TrimSpace(mn)
	if !ok || pid == "" || mn == "" {
		return AIProvider{}, "", fmt.Errorf("invalid model id %q (want <provider_id>/<model_name>)", modelID)
	}
	for _, p := range c.Providers {
		if strings.TrimSpace(p.ID) != pid {
			continue
		}
		for _, m := range p.Models {
			if strings.TrimSpace(m.ModelName) == mn {
				return p, mn, nil
			}
		}
		return AIProvider{}, "", fmt.Errorf("model %q is not configured for provider %q", mn, pid)
	}
	return AIProvider{}, "", fmt.Errorf("unknown provider %q", pid)
}

func (c *AIConfig) EffectiveMode() string {
	if c == nil {
		return AIModeAct
	}
	mode := strings.TrimSpace(strings.ToLower(c.Mode))
	switch mode {
	case AIModePlan:
		return AIModePlan
	default:
		return AIModeAct
	}
}

func (c *AIConfig) EffectiveMaxFixAttempts() int {
	if c == nil || c.MaxFixAttempts == nil {
		return defaultAIMaxFixAttempts
	}
	v := *c.MaxFixAttempts
	if v < 1 {
		return defaultAIMaxFixAttempts
	}
	if v > maxAIMaxFixAttempts {
		return maxAIMaxFixAttempts
	}
	return v
}

func (c *AIConfig) EffectiveMaxSteps() int {
	if c == nil || c.MaxSteps == nil || *c.MaxSteps < 1 {
		return defaultAIMaxSteps
	}
	return min(*c.MaxSteps, maxAIMaxSteps)
}

func (c *AIConfig) EffectiveMaxToolOutputTokens() int {
	if c == nil || c.MaxToolOutputTokens == nil || *c.MaxToolOutputTokens <= 0 {
		return defaultAIMaxToolOutputTokens
	}
	return *c.MaxToolOutputTokens
}

func (c *AIConfig) EffectiveRequireUserApproval() bool {
	if c == nil || c.ExecutionPolicy == nil || c.ExecutionPolicy.RequireUserApproval == nil {
		return defaultAIRequireUserApproval
	}
	return *c.ExecutionPolicy.RequireUserApproval
}

func (c *AIConfig) EffectiveBlockDangerousCommands() bool {
	if c == nil || c.ExecutionPolicy == nil {
		return defaultAIBlockDangerousCommand
	}
	return c.ExecutionPolicy.BlockDangerousCommands
}

func (c *AIConfig) EffectiveAllowCommands() []string {
	if c == nil || c.ExecutionPolicy == nil {
		return nil
	}
	return trimmedNonEmpty(c.ExecutionPolicy.AllowCommands)
}

func (c *AIConfig) EffectiveDenyCommands() []string {
	if c == nil || c.ExecutionPolicy == nil {
		return nil
	}
	return trimmedNonEmpty(c.ExecutionPolicy.DenyCommands)
}

func trimmedNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
