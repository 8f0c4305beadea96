// Package config implements the per-skill config/secret lookup described in
// the gateway spec: a two-layer mapping (trikId -> (key -> value)), loaded
// once at startup and reloadable on demand, with project-local entries
// overriding global entries key-by-key rather than file-by-file.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/trikhub/gateway/common/crypto"
	"github.com/trikhub/gateway/internal/gateway/manifest"
)

const (
	configFileName  = "config.json"
	secretsFileName = "secrets.json"
	trikhubDir      = ".trikhub"
	encPrefix       = "enc:"
)

// layer is the on-disk shape of both config.json and secrets.json:
// {"@scope/name": {"KEY": "value", ...}, ...}.
type layer map[string]map[string]string

// Store loads and merges the project-local and global config/secrets files.
// Reload swaps the live map atomically so in-flight lookups never observe a
// half-applied reload, matching the hot-reload idiom used elsewhere in this
// codebase for live configuration.
type Store struct {
	mu sync.RWMutex

	projectDir string
	masterKey  []byte // nil when TRIKHUB_MASTER_KEY is unset: secrets stay plaintext

	live map[string]map[string]string // trikId -> key -> value, merged
}

// Load reads config.json and secrets.json from both <projectDir>/.trikhub
// and the user-global trikhub config directory, merging them key-by-key
// with project-local taking precedence, and returns a ready Store.
func Load(projectDir string) (*Store, error) {
	s := &Store{projectDir: projectDir}
	if key, err := crypto.LoadMasterKey(); err == nil {
		s.masterKey = key
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads both layers from disk and atomically replaces the live
// merged map. An error leaves the previously-loaded configuration in place.
func (s *Store) Reload() error {
	global, err := readLayers(globalTrikhubDir())
	if err != nil {
		return err
	}
	project, err := readLayers(filepath.Join(s.projectDir, trikhubDir))
	if err != nil {
		return err
	}

	merged := make(map[string]map[string]string)
	mergeInto(merged, global)
	mergeInto(merged, project)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = merged
	return nil
}

func readLayers(dir string) (layer, error) {
	merged := make(layer)
	for _, name := range []string{configFileName, secretsFileName} {
		l, err := readLayerFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for trikID, kv := range l {
			if merged[trikID] == nil {
				merged[trikID] = make(map[string]string, len(kv))
			}
			for k, v := range kv {
				merged[trikID][k] = v
			}
		}
	}
	return merged, nil
}

func readLayerFile(path string) (layer, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return layer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var l layer
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return l, nil
}

func mergeInto(dst map[string]map[string]string, src layer) {
	for trikID, kv := range src {
		if dst[trikID] == nil {
			dst[trikID] = make(map[string]string, len(kv))
		}
		for k, v := range kv {
			dst[trikID][k] = v
		}
	}
}

func globalTrikhubDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "trikhub")
}

// rawGet returns the merged, still-possibly-encrypted value for trikID/key.
func (s *Store) rawGet(trikID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kv, ok := s.live[trikID]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// decrypt unwraps a value written with the "enc:" marker using the loaded
// master key; values without the marker (or when no master key is
// configured) pass through unchanged, so the store works identically with
// or without encryption-at-rest enabled.
func (s *Store) decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, encPrefix) {
		return value, nil
	}
	if s.masterKey == nil {
		return "", fmt.Errorf("config: value is encrypted but TRIKHUB_MASTER_KEY is not set")
	}
	ciphertext, err := hex.DecodeString(strings.TrimPrefix(value, encPrefix))
	if err != nil {
		return "", fmt.Errorf("config: decode ciphertext: %w", err)
	}
	plaintext, err := crypto.Decrypt(s.masterKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("config: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Context is the config view handed to a single trik: Get/Has only ever
// return keys the manifest itself declared as required or optional, even
// if the backing files contain other keys for the same trik id.
type Context struct {
	store    *Store
	trikID   string
	declared map[string]bool
}

// ForTrik returns a Context scoped to trikID, whitelisted to the config
// keys declared by its manifest's capabilities.
func (s *Store) ForTrik(trikID string, declared []manifest.ConfigRequirement) Context {
	allowed := make(map[string]bool, len(declared))
	for _, req := range declared {
		allowed[req.Key] = true
	}
	return Context{store: s, trikID: trikID, declared: allowed}
}

// Get returns the value for key, or false if key is undeclared, absent from
// both layers, or (when encrypted with no master key available) fails to
// decrypt.
func (c Context) Get(key string) (string, bool) {
	if !c.declared[key] {
		return "", false
	}
	raw, ok := c.store.rawGet(c.trikID, key)
	if !ok {
		return "", false
	}
	value, err := c.store.decrypt(raw)
	if err != nil {
		return "", false
	}
	return value, true
}

// Has mirrors Get without returning the value.
func (c Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// EncryptSecretValue wraps plaintext with AES-256-GCM under masterKey and
// formats it the way Store.decrypt expects to find it in secrets.json
// ("enc:" followed by hex-encoded ciphertext). Secret-writing tooling is out
// of scope for this gateway, but tests that exercise the encrypted path need
// a way to produce a valid fixture value.
func EncryptSecretValue(masterKey []byte, plaintext string) (string, error) {
	ciphertext, err := crypto.Encrypt(masterKey, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("config: encrypt: %w", err)
	}
	return encPrefix + hex.EncodeToString(ciphertext), nil
}
