package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for redeven-coder.
//
// Secrets (provider API keys) never live here; see internal/settings.
type Config struct {
	// WorkspaceRoot confines every file and command tool. If empty, the
	// current working directory is used.
	WorkspaceRoot string `yaml:"workspace_root,omitempty"`

	// StateDir holds the thread database, secrets, and the lock file.
	// If empty, the directory of the config file is used.
	StateDir string `yaml:"state_dir,omitempty"`

	// Shell is the shell used for commands. If empty, SHELL or /bin/bash.
	Shell string `yaml:"shell,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `yaml:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `yaml:"log_level,omitempty"`

	AI AIConfig `yaml:",inline"`

	Terminal *TerminalConfig `yaml:"terminal,omitempty"`
}

type TerminalConfig struct {
	// UseSessions runs commands in a persistent PTY shell instead of one
	// process per command.
	UseSessions bool `yaml:"use_sessions"`

	Timeout time.Duration `yaml:"timeout,omitempty"`

	// LongRunningAfter returns partial output for commands still running
	// after this long. Zero disables it.
	LongRunningAfter time.Duration `yaml:"long_running_after,omitempty"`
}

const (
	defaultTerminalTimeout = 60 * time.Second
	maxTerminalTimeout     = 30 * time.Minute
)

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if t := c.Terminal; t != nil {
		if t.Timeout < 0 || t.Timeout > maxTerminalTimeout {
			return fmt.Errorf("invalid terminal.timeout %s (must be in [0,%s])", t.Timeout, maxTerminalTimeout)
		}
		if t.LongRunningAfter < 0 {
			return fmt.Errorf("invalid terminal.long_running_after %s", t.LongRunningAfter)
		}
	}
	if err := c.AI.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) EffectiveWorkspaceRoot() (string, error) {
	root := strings.TrimSpace(c.WorkspaceRoot)
	if root == "" {
		return os.Getwd()
	}
	if strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~/"))
	}
	return filepath.Abs(root)
}

// EffectiveStateDir returns StateDir, or the directory of configPath.
func (c *Config) EffectiveStateDir(configPath string) string {
	if dir := strings.TrimSpace(c.StateDir); dir != "" {
		return filepath.Clean(dir)
	}
	return filepath.Dir(configPath)
}

func (c *Config) EffectiveShell() string {
	if s := strings.TrimSpace(c.Shell); s != "" {
		return s
	}
	if s := strings.TrimSpace(os.Getenv("SHELL")); s != "" {
		return s
	}
	return "/bin/bash"
}

func (c *Config) EffectiveUseTerminalSessions() bool {
	return c.Terminal != nil && c.Terminal.UseSessions
}

func (c *Config) EffectiveTerminalTimeout() time.Duration {
	if c.Terminal == nil || c.Terminal.Timeout <= 0 {
		return defaultTerminalTimeout
	}
	return c.Terminal.Timeout
}

func (c *Config) EffectiveLongRunningAfter() time.Duration {
	if c.Terminal == nil || c.Terminal.LongRunningAfter <= 0 {
		return 0
	}
	return c.Terminal.LongRunningAfter
}

// DefaultConfigPath returns the default config path:
//
//	~/.redeven-coder/config.yaml
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "redeven-coder.config.yaml"
	}
	return filepath.Join(home, ".redeven-coder", "config.yaml")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
