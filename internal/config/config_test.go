package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `workspace_root: /srv/project
log_format: json
log_level: debug
mode: plan
max_fix_attempts: 5
providers:
  - id: openai
    type: openai
    models:
      - model_name: gpt-5-mini
        is_default: true
execution_policy:
  require_user_approval: true
  block_dangerous_commands: true
  allow_commands: ["go test"]
terminal:
  use_sessions: true
  timeout: 2m
  long_running_after: 30s
`

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkspaceRoot != "/srv/project" || cfg.LogFormat != "json" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.AI.EffectiveMode() != AIModePlan || cfg.AI.EffectiveMaxFixAttempts() != 5 {
		t.Fatalf("ai=%+v", cfg.AI)
	}
	if !cfg.AI.EffectiveRequireUserApproval() || !cfg.AI.EffectiveBlockDangerousCommands() {
		t.Fatalf("execution policy not loaded: %+v", cfg.AI.ExecutionPolicy)
	}
	if !cfg.EffectiveUseTerminalSessions() {
		t.Fatalf("use_sessions not loaded")
	}
	if got := cfg.EffectiveTerminalTimeout(); got != 2*time.Minute {
		t.Fatalf("timeout=%s, want 2m", got)
	}
	if got := cfg.EffectiveLongRunningAfter(); got != 30*time.Second {
		t.Fatalf("long_running_after=%s, want 30s", got)
	}
	if got := cfg.EffectiveStateDir(path); got != filepath.Dir(path) {
		t.Fatalf("state dir=%q", got)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		LogLevel: "warn",
		AI:       validAIConfig(),
		Terminal: &TerminalConfig{Timeout: 90 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("perm=%v, want 0600", st.Mode().Perm())
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LogLevel != "warn" || len(got.AI.Providers) != 2 || got.EffectiveTerminalTimeout() != 90*time.Second {
		t.Fatalf("got=%+v", got)
	}
}

func TestConfigValidate_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"log format", Config{LogFormat: "xml", AI: validAIConfig()}},
		{"log level", Config{LogLevel: "trace", AI: validAIConfig()}},
		{"negative timeout", Config{AI: validAIConfig(), Terminal: &TerminalConfig{Timeout: -time.Second}}},
		{"no providers", Config{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
