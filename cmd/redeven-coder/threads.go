package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/floegence/redeven-coder/internal/agent"
	"github.com/floegence/redeven-coder/internal/auditlog"
	"github.com/floegence/redeven-coder/internal/thread"
	"github.com/floegence/redeven-coder/internal/threadstore"
	"github.com/floegence/redeven-coder/internal/workspace"
)

func threadsCmd(args []string) int {
	fs := pflag.NewFlagSet("threads", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	root := fs.StringP("workspace", "C", "", "Workspace root (default: from config, else the current directory)")
	limit := fs.IntP("limit", "n", 20, "Maximum threads to list")
	cursor := fs.String("cursor", "", "Continue a previous listing")
	_ = fs.Parse(args)

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
	}
	wsRoot, err := e.workspaceRoot(*root)
	if err != nil {
		return fail("resolve workspace root: %v", err)
	}
	var cur threadstore.ThreadsCursor
	if *cursor != "" {
		var ok bool
		if cur, ok = threadstore.DecodeCursor(*cursor); !ok {
			return fail("invalid --cursor")
		}
	}
	store, err := e.openStore()
	if err != nil {
		return fail("open thread store: %v", err)
	}
	defer func() { _ = store.Close() }()

	list, next, err := store.ListThreads(context.Background(), wsRoot, *limit, cur)
	if err != nil {
		return fail("list threads: %v", err)
	}
	r := newRenderer(os.Stdout)
	if len(list) == 0 {
		r.Faint(fmt.Sprintf("No threads for %s.", wsRoot))
		return 0
	}
	for _, s := range list {
		r.ThreadSummary(s)
	}
	if next != "" {
		r.Faint("More: redeven-coder threads --cursor " + next)
	}
	return 0
}

func showCmd(args []string) int {
	fs := pflag.NewFlagSet("show", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: redeven-coder show [flags] <thread>")
		return exitUsage
	}

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
	}
	store, err := e.openStore()
	if err != nil {
		return fail("open thread store: %v", err)
	}
	defer func() { _ = store.Close() }()

	th, err := loadThreadRef(context.Background(), store, fs.Arg(0))
	if err != nil {
		return fail("%v", err)
	}
	newRenderer(os.Stdout).Thread(th)
	return 0
}

func rollbackCmd(args []string) int {
	fs := pflag.NewFlagSet("rollback", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	root := fs.StringP("workspace", "C", "", "Workspace root for --revert (default: from config, else the current directory)")
	revert := fs.Bool("revert", false, "Also undo the file edits of the removed roundtrips")
	_ = fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: redeven-coder rollback [flags] <thread> <message_id>")
		return exitUsage
	}

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
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

	ctx := context.Background()
	th, err := loadThreadRef(ctx, store, fs.Arg(0))
	if err != nil {
		return fail("%v", err)
	}
	wsRoot, err := e.workspaceRoot(*root)
	if err != nil {
		return fail("resolve workspace root: %v", err)
	}

	removed, err := th.RollbackRoundtripTo(fs.Arg(1))
	if err != nil {
		return fail("rollback: %v", err)
	}
	if err := store.SaveThread(ctx, wsRoot, th); err != nil {
		return fail("save thread: %v", err)
	}
	r := newRenderer(os.Stdout)
	r.Faint(fmt.Sprintf("Removed %d roundtrip(s) from %s.", len(removed), th.UUID))
	entry := auditlog.Entry{
		Action:        auditlog.ActionRollback,
		WorkspaceRoot: wsRoot,
		ThreadID:      th.UUID,
		Detail:        map[string]any{"message_id": fs.Arg(1), "removed": len(removed), "revert": *revert},
	}
	if audit, err := e.openAudit(); err == nil {
		defer func() { audit.Append(entry) }()
	}
	if !*revert {
		return 0
	}
	ws := workspace.New(wsRoot)
	if err := ws.Check(); err != nil {
		entry.Status, entry.Error = "failure", err.Error()
		return fail("workspace root unavailable: %v", err)
	}
	if err := agent.RevertRoundtrips(ws, removed); err != nil {
		entry.Status, entry.Error = "failure", err.Error()
		return fail("some edits could not be reverted:\n%v", err)
	}
	files := 0
	for _, rt := range removed {
		files += len(rt.Edits.Files())
	}
	r.Faint(fmt.Sprintf("Reverted edits to %d file(s).", files))
	return 0
}

func loadThreadRef(ctx context.Context, store *threadstore.Store, ref string) (*thread.Thread, error) {
	id, err := store.ResolveThreadID(ctx, strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}
	th, err := store.LoadThread(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	return th, nil
}

func formatUnixMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

func auditCmd(args []string) int {
	fs := pflag.NewFlagSet("audit", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	limit := fs.IntP("limit", "n", 50, "Maximum entries to print")
	_ = fs.Parse(args)

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
	}
	audit, err := e.openAudit()
	if err != nil {
		return fail("open audit log: %v", err)
	}
	entries, err := audit.List(*limit)
	if err != nil {
		return fail("read audit log: %v", err)
	}
	r := newRenderer(os.Stdout)
	for _, ent := range entries {
		r.AuditEntry(ent)
	}
	return 0
}
