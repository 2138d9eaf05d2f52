package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/floegence/redeven-coder/internal/settings"
)

func keyCmd(args []string) int {
	fs := pflag.NewFlagSet("key", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Config file (default: ~/.redeven-coder/config.yaml)")
	_ = fs.Parse(args)

	action := fs.Arg(0)
	providerID := strings.TrimSpace(fs.Arg(1))
	if action == "" || (action != "list" && providerID == "") {
		fmt.Fprintln(os.Stderr, "usage: redeven-coder key set|clear <provider_id>\n       redeven-coder key list")
		return exitUsage
	}

	e, err := loadEnv(*cfgPath)
	if err != nil {
		return fail("%v", err)
	}
	secrets := e.secrets()

	switch action {
	case "set":
		if !e.hasProvider(providerID) {
			return fail("unknown provider %q", providerID)
		}
		key, err := readSecret(fmt.Sprintf("API key for %s: ", providerID))
		if err != nil {
			return fail("%v", err)
		}
		if err := secrets.Set(providerID, key); err != nil {
			return fail("save key: %v", err)
		}
		fmt.Printf("Saved key for %s in %s\n", providerID, secrets.Path())
	case "clear":
		had, err := secrets.Clear(providerID)
		if err != nil {
			return fail("clear key: %v", err)
		}
		if !had {
			fmt.Printf("No stored key for %s\n", providerID)
			break
		}
		fmt.Printf("Cleared key for %s\n", providerID)
	case "list":
		for _, p := range e.cfg.AI.Providers {
			k, err := secrets.Lookup(p.ID)
			if err != nil {
				return fail("read keys: %v", err)
			}
			fmt.Printf("%-24s %s\n", k.ProviderID, keySourceLabel(k))
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown key action %q\n", action)
		return exitUsage
	}
	return 0
}

func keySourceLabel(k settings.Key) string {
	switch k.Source {
	case settings.SourceEnv:
		return "env " + k.EnvVar
	case settings.SourceFile:
		return "secrets.json"
	default:
		return "missing (set it or export " + k.EnvVar + ")"
	}
}

func (e *env) hasProvider(id string) bool {
	for _, p := range e.cfg.AI.Providers {
		if strings.TrimSpace(p.ID) == id {
			return true
		}
	}
	return false
}

// readSecret reads one line without echo on a terminal, else from stdin as is.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
