package config

import "testing"

func TestAIConfigValidate_RequiresProviderModels(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{ID: "openai", Name: "OpenAI", Type: "openai", BaseURL: "https://api.openai.com/v1"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing providers[].models[]")
	}
}

func TestAIConfigValidate_RequiresDefaultModel(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Name:    "OpenAI",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini"}},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for missing default model")
	}
}

func TestAIConfigValidate_RejectsMultipleDefaults(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Name:    "OpenAI",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini", IsDefault: true}, {ModelName: "gpt-5", IsDefault: true}},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for multiple default models")
	}
}

func TestAIConfigValidate_OK(t *testing.T) {
	t.Parallel()

	cfg := &AIConfig{
		Providers: []AIProvider{
			{
				ID:      "openai",
				Name:    "OpenAI",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Models:  []AIProviderModel{{ModelName: "gpt-5-mini", IsDefault: true}, {ModelName: "gpt-4o-mini"}},
			},
			{
				ID:      "anthropic",
				Name:    "Anthropic",
				Type:    "anthropic",
				BaseURL: "https://api.anthropic.com",
				Models:  []AIProviderModel{{ModelName: "claude-sonnet-4-5"}},
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func validAIConfig() AIConfig {
	return AIConfig{
		Providers: []AIProvider{
			{ID: "openai", Type: "openai", Models: []AIProviderModel{{ModelName: "gpt-5-mini", IsDefault: true}}},
			{ID: "claude", Type: "anthropic", Models: []AIProviderModel{{ModelName: "claude-sonnet-4-5"}}},
		},
	}
}

func intPtr(v int) *int { return &v }

func TestAIConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(c *AIConfig)
	}{
		{"bad mode", func(c *AIConfig) { c.Mode = "yolo" }},
		{"fix attempts zero", func(c *AIConfig) { c.MaxFixAttempts = intPtr(0) }},
		{"fix attempts above cap", func(c *AIConfig) { c.MaxFixAttempts = intPtr(9) }},
		{"max steps zero", func(c *AIConfig) { c.MaxSteps = intPtr(0) }},
		{"blank allow entry", func(c *AIConfig) { c.ExecutionPolicy = &AIExecutionPolicy{AllowCommands: []string{"go test", " "}} }},
		{"compatible without base_url", func(c *AIConfig) { c.Providers[0].Type = "openai_compatible" }},
		{"bad base_url scheme", func(c *AIConfig) { c.Providers[0].BaseURL = "ftp://example.com" }},
		{"duplicate id", func(c *AIConfig) { c.Providers[1].ID = "openai" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validAIConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestAIConfig_Effective(t *testing.T) {
	t.Parallel()

	cfg := validAIConfig()
	if got := cfg.EffectiveMaxFixAttempts(); got != 3 {
		t.Fatalf("EffectiveMaxFixAttempts=%d, want 3", got)
	}
	if got := cfg.EffectiveMaxSteps(); got != 24 {
		t.Fatalf("EffectiveMaxSteps=%d, want 24", got)
	}
	cfg.MaxSteps = intPtr(1000)
	if got := cfg.EffectiveMaxSteps(); got != 200 {
		t.Fatalf("EffectiveMaxSteps=%d, want 200", got)
	}
	if cfg.EffectiveMode() != AIModeAct {
		t.Fatalf("EffectiveMode=%q", cfg.EffectiveMode())
	}
	cfg.Mode = " PLAN "
	if cfg.EffectiveMode() != AIModePlan {
		t.Fatalf("EffectiveMode=%q, want plan", cfg.EffectiveMode())
	}
	cfg.ExecutionPolicy = &AIExecutionPolicy{DenyCommands: []string{" rm -rf ", ""}}
	if got := cfg.EffectiveDenyCommands(); len(got) != 1 || got[0] != "rm -rf" {
		t.Fatalf("EffectiveDenyCommands=%q", got)
	}
	if !cfg.EffectiveRequireUserApproval() {
		t.Fatalf("EffectiveRequireUserApproval=false with the key unset, want true")
	}
	off := false
	cfg.ExecutionPolicy.RequireUserApproval = &off
	if cfg.EffectiveRequireUserApproval() {
		t.Fatalf("EffectiveRequireUserApproval=true after opting out")
	}
}

func TestAIConfig_ResolveModel(t *testing.T) {
	t.Parallel()

	cfg := validAIConfig()
	p, model, err := cfg.ResolveModel("")
	if err != nil || p.ID != "openai" || model != "gpt-5-mini" {
		t.Fatalf("ResolveModel(default)=%q,%q,%v", p.ID, model, err)
	}
	p, model, err = cfg.ResolveModel("claude/claude-sonnet-4-5")
	if err != nil || p.Type != "anthropic" || model != "claude-sonnet-4-5" {
		t.Fatalf("ResolveModel(claude)=%q,%q,%v", p.Type, model, err)
	}
	for _, id := range []string{"claude/gpt-5-mini", "nope/x", "no-slash"} {
		if _, _, err := cfg.ResolveModel(id); err == nil {
			t.Fatalf("ResolveModel(%q): expected error", id)
		}
	}
}
