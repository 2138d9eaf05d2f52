// Package settings holds provider API keys outside of config.yaml.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

// KeySource says where a provider key was found.
type KeySource string

const (
	SourceNone KeySource = ""
	SourceEnv  KeySource = "env"
	SourceFile KeySource = "file"
)

// Key is the resolved credential of one provider. Value is empty when Source
// is SourceNone.
type Key struct {
	ProviderID string
	Value      string
	Source     KeySource
	// EnvVar is the variable that overrides the stored key.
	EnvVar string
}

func (k Key) Found() bool { return k.Source != SourceNone }

// SecretsStore keeps provider keys in a 0600 JSON file under the state
// directory. An environment variable always beats the file.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string { return s.path }

type secretsFile struct {
	SchemaVersion int               `json:"schema_version"`
	ProviderKeys  map[string]string `json:"provider_keys,omitempty"`
}

// APIKeyEnvVar returns REDEVEN_CODER_<PROVIDER_ID>_API_KEY, with the id
// upper-cased and every non-alphanumeric rune replaced by '_'.
func APIKeyEnvVar(providerID string) string {
	id := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, strings.TrimSpace(providerID))
	return "REDEVEN_CODER_" + id + "_API_KEY"
}

// Lookup resolves the key the model client for providerID should use.
func (s *SecretsStore) Lookup(providerID string) (Key, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return Key{}, errors.New("missing provider id")
	}
	k := Key{ProviderID: providerID, EnvVar: APIKeyEnvVar(providerID)}
	if v := strings.TrimSpace(os.Getenv(k.EnvVar)); v != "" {
		k.Value, k.Source = v, SourceEnv
		return k, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return Key{}, err
	}
	if v := strings.TrimSpace(sf.ProviderKeys[providerID]); v != "" {
		k.Value, k.Source = v, SourceFile
	}
	return k, nil
}

// Set stores apiKey for providerID, replacing any previous key.
func (s *SecretsStore) Set(providerID string, apiKey string) error {
	providerID = strings.TrimSpace(providerID)
	apiKey = strings.TrimSpace(apiKey)
	switch {
	case providerID == "":
		return errors.New("missing provider id")
	case apiKey == "":
		return errors.New("missing api key")
	}
	_, err := s.update(func(keys map[string]string) bool {
		keys[providerID] = apiKey
		return true
	})
	return err
}

// Clear removes the stored key and reports whether there was one. The
// environment is not touched.
func (s *SecretsStore) Clear(providerID string) (bool, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return false, errors.New("missing provider id")
	}
	return s.update(func(keys map[string]string) bool {
		if _, ok := keys[providerID]; !ok {
			return false
		}
		delete(keys, providerID)
		return true
	})
}

// update loads the file, applies fn and writes it back when fn reports a
// change.
func (s *SecretsStore) update(fn func(keys map[string]string) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return false, err
	}
	if sf.ProviderKeys == nil {
		sf.ProviderKeys = make(map[string]string)
	}
	if !fn(sf.ProviderKeys) {
		return false, nil
	}
	return true, s.save(sf)
}

func (s *SecretsStore) load() (*secretsFile, error) {
	if s.path == "" || s.path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &secretsFile{SchemaVersion: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return &sf, nil
}

// save writes a temp file and renames it into place.
func (s *SecretsStore) save(sf *secretsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	sf.SchemaVersion = 1
	if len(sf.ProviderKeys) == 0 {
		sf.ProviderKeys = nil
	}
	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
