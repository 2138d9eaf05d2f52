package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/floegence/redeven-coder/internal/agent"
	"github.com/floegence/redeven-coder/internal/auditlog"
	"github.com/floegence/redeven-coder/internal/config"
	"github.com/floegence/redeven-coder/internal/llm"
	"github.com/floegence/redeven-coder/internal/lockfile"
	"github.com/floegence/redeven-coder/internal/settings"
	"github.com/floegence/redeven-coder/internal/terminal"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/threadstore"
	"github.com/floegence/redeven-coder/internal/tools"
	"github.com/floegence/redeven-coder/internal/workspace"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

const (
	exitFailed  = 1
	exitUsage   = 2
	exitAborted = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCmd(os.Args[2:])
	case "threads":
		code = threadsCmd(os.Args[2:])
	case "show":
		code = showCmd(os.Args[2:])
	case "rollback":
		code = rollbackCmd(os.Args[2:])
	case "key":
		code = keyCmd(os.Args[2:])
	case "audit":
		code = auditCmd(os.Args[2:])
	case "version":
		fmt.Printf("redeven-coder %s (%s)\n", Version, Commit)
	case "help", "-h", "--help":
		printUsage()
	default:
		printUsage()
		code = exitUsage
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `redeven-coder

Usage:
  redeven-coder run [flags] [request...]
  redeven-coder threads [flags]
  redeven-coder show [flags] <thread>
  redeven-coder rollback [flags] <thread> <message_id>
  redeven-coder key set|clear|list [provider_id]
  redeven-coder audit [flags]
  redeven-coder version

Commands:
  run        Send a request to the coding agent, or resume a thread with --thread.
  threads    List threads of the current workspace.
  show       Print a thread's roundtrips and their message ids.
  rollback   Remove a roundtrip and everything after it; --revert also undoes its file edits.
  key        Manage provider API keys in the local secrets store.
  audit      Print recent tool activity, newest first.
  version    Print build information.

`)
}

// env is what every subcommand shares: the loaded config and the state
// directory derived from it.
type env struct {
	cfgPath  string
	cfg      *config.Config
	stateDir string
	log      *slog.Logger
}

func loadEnv(cfgPath string) (*env, error) {
	if strings.TrimSpace(cfgPath) == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfgPath = filepath.Clean(cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config not found at %s; create it with at least one provider", cfgPath)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := agent.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	stateDir := cfg.EffectiveStateDir(cfgPath)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("init state dir: %w", err)
	}
	return &env{cfgPath: cfgPath, cfg: cfg, stateDir: stateDir, log: log}, nil
}

func (e *env) secrets() *settings.SecretsStore {
	return settings.NewSecretsStore(filepath.Join(e.stateDir, "secrets.json"))
}

func (e *env) openStore() (*threadstore.Store, error) {
	return threadstore.Open(filepath.Join(e.stateDir, "threads.sqlite"))
}

func (e *env) openAudit() (*auditlog.Store, error) {
	return auditlog.New(auditlog.Options{Logger: e.log, StateDir: e.stateDir})
}

// lock keeps two writers off the same thread database.
func (e *env) lock() (*lockfile.Lock, error) {
	path := filepath.Join(e.stateDir, "coder.lock")
	lk, err := lockfile.Acquire(path)
	if err == nil {
		return lk, nil
	}
	if errors.Is(err, lockfile.ErrAlreadyLocked) {
		if pid, ok := lockfile.HolderPID(path); ok {
			return nil, fmt.Errorf("another redeven-coder (pid %d) is using %s", pid, e.stateDir)
		}
	}
	return nil, fmt.Errorf("acquire lock (%s): %w", path, err)
}

func (e *env) workspaceRoot(override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return filepath.Abs(override)
	}
	return e.cfg.EffectiveWorkspaceRoot()
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return exitFailed
}

func runCmd(args []string) int {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	threadRef := fs.StringP("thread", "t", "", "Continue this thread (id or unique id prefix)")
	modelID := fs.StringP("model", "m", "", "Model as <provider_id>/<model_name> (default: the configured default)")
	mode := fs.String("mode", "", "Mode: act|plan (default: from config)")
	root := fs.StringP("workspace", "C", "", "Workspace root (default: from config, else the current directory)")
	yes := fs.BoolP("yes", "y", false, "Approve every operation without asking")
	_ = fs.Parse(args)

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" && *threadRef == "" {
		if text, err = readRequestFromStdin(); err != nil {
			return fail("%v", err)
		}
	}

	lk, err := e.lock()
	if err != nil {
		return fail("%v", err)
	}
	defer func() { _ = lk.Release() }()

	store, err := e.openStore()
	if err != nil {
		return fail("open thread store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	th := thread.New()
	if *threadRef != "" {
		id, err := store.ResolveThreadID(ctx, *threadRef)
		if err != nil {
			return fail("resolve thread: %v", err)
		}
		if th, err = store.LoadThread(ctx, id); err != nil {
			return fail("load thread: %v", err)
		}
	}

	wsRoot, err := e.workspaceRoot(*root)
	if err != nil {
		return fail("resolve workspace root: %v", err)
	}
	ws := workspace.New(wsRoot)

	client, modelName, err := e.modelClient(*modelID)
	if err != nil {
		return fail("%v", err)
	}

	effMode := e.cfg.AI.EffectiveMode()
	if m := strings.ToLower(strings.TrimSpace(*mode)); m != "" {
		if m != tools.ModeAct && m != tools.ModePlan {
			return fail("invalid --mode %q (want act|plan)", *mode)
		}
		effMode = m
	}

	var runner terminal.Runner
	if e.cfg.EffectiveUseTerminalSessions() {
		runner = terminal.NewSessionRunner(e.cfg.EffectiveShell(), ws.Root(), e.log)
	} else {
		runner = terminal.NewExecRunner(e.cfg.EffectiveShell(), e.log)
	}
	defer func() { _ = runner.Close() }()

	toolset := tools.NewToolset(tools.Options{
		Workspace: ws,
		Commands:  runner,
		Policy: tools.CommandPolicy{
			SkipApproval:   !e.cfg.AI.EffectiveRequireUserApproval(),
			BlockDangerous: e.cfg.AI.EffectiveBlockDangerousCommands(),
			AllowCommands:  e.cfg.AI.EffectiveAllowCommands(),
			DenyCommands:   e.cfg.AI.EffectiveDenyCommands(),
		},
		Mode:             effMode,
		CommandTimeout:   e.cfg.EffectiveTerminalTimeout(),
		LongRunningAfter: e.cfg.EffectiveLongRunningAfter(),
		Logger:           e.log,
	})

	audit, err := e.openAudit()
	if err != nil {
		return fail("open audit log: %v", err)
	}
	r := newRenderer(os.Stdout)
	onEvent := func(ev agent.Event) {
		r.OnEvent(ev)
		if ev.Type == agent.EventWorkflow && ev.Workflow != nil && ev.Workflow.Status != thread.WorkflowRunning {
			audit.Append(auditlog.FromWorkflow(ws.Root(), ev.ThreadID, ev.Roundtrip.UUID, ev.Workflow))
		}
	}
	a, err := agent.New(agent.Options{
		Model:                client,
		ModelName:            modelName,
		Workspace:            ws,
		Toolset:              toolset,
		Approver:             newPromptApprover(os.Stdin, os.Stderr, *yes, r),
		Store:                store,
		Mode:                 effMode,
		MaxSteps:             e.cfg.AI.EffectiveMaxSteps(),
		MaxFixAttempts:       e.cfg.AI.EffectiveMaxFixAttempts(),
		MaxToolOutputTokens:  e.cfg.AI.EffectiveMaxToolOutputTokens(),
		ThinkingBudgetTokens: e.cfg.AI.ThinkingBudgetTokens,
		Logger:               e.log,
		OnEvent:              onEvent,
	})
	if err != nil {
		return fail("init agent: %v", err)
	}

	var rt *thread.Roundtrip
	if text == "" {
		rt, err = a.Resume(ctx, th)
		if rt == nil && err == nil {
			return fail("thread %s has no open roundtrip; pass a request to continue it", th.UUID)
		}
	} else {
		rt, err = a.Send(ctx, th, text)
	}
	r.Footer(th)
	if err != nil && rt == nil {
		return fail("%v", err)
	}
	switch rt.Status {
	case thread.RoundtripCompleted:
		return 0
	case thread.RoundtripAborted:
		return exitAborted
	default:
		return exitFailed
	}
}

func (e *env) modelClient(modelID string) (llm.Client, string, error) {
	provider, modelName, err := e.cfg.AI.ResolveModel(modelID)
	if err != nil {
		return nil, "", err
	}
	key, err := e.secrets().Lookup(provider.ID)
	if err != nil {
		return nil, "", fmt.Errorf("read api key: %w", err)
	}
	if !key.Found() {
		return nil, "", fmt.Errorf("no api key for provider %q; run `redeven-coder key set %s` or set %s",
			provider.ID, provider.ID, key.EnvVar)
	}
	e.log.Debug("api key resolved", "provider_id", provider.ID, "source", key.Source)
	client, err := llm.New(provider.Type, provider.BaseURL, key.Value)
	if err != nil {
		return nil, "", fmt.Errorf("provider %q: %w", provider.ID, err)
	}
	return client, modelName, nil
}

func readRequestFromStdin() (string, error) {
	if isTerminalFile(os.Stdin) {
		return "", errors.New("missing request; pass it as arguments or pipe it on stdin")
	}
	b, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", errors.New("empty request on stdin")
	}
	return text, nil
}
