// Package core implements the Gateway: the top-level orchestration of
// manifest loading, tool registration, per-invocation dispatch, template
// rendering, and passthrough receipt issuance. It is loosely grounded on
// the teacher's app.App for its orchestration shape, restructured into a
// stateless-per-call library rather than an LLM-turn loop, since the agent
// loop itself is out of scope here. Execute neither mints trace ids nor
// logs its steps; failures surface only in the returned Result.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/trikhub/gateway/internal/gateway/config"
	"github.com/trikhub/gateway/internal/gateway/content"
	"github.com/trikhub/gateway/internal/gateway/internalrunner"
	"github.com/trikhub/gateway/internal/gateway/manifest"
	"github.com/trikhub/gateway/internal/gateway/session"
	"github.com/trikhub/gateway/internal/gateway/storage"
	"github.com/trikhub/gateway/internal/gateway/workerproc"
)

// ErrDuplicateTrik is returned by LoadTrik when a manifest whose id is
// already registered is loaded a second time. TrikHub treats this as an
// error rather than a silent no-op: the tool table is built additively and
// keyed by id, and a silent no-op risks a caller believing a changed
// manifest on disk was picked up on reload when it was not. Callers that
// want to pick up manifest changes must Reload, which re-parses after first
// unregistering the stale entry, rather than calling LoadTrik twice.
var ErrDuplicateTrik = errors.New("core: trik already loaded")

// loadedTrik bundles a parsed manifest with the compiled schemas and
// filesystem location its dispatch needs at execute time.
type loadedTrik struct {
	manifest   *manifest.Manifest
	dir        string // directory manifest.json was loaded from
	entryPath  string // absolute path to the entry artifact

	inputSchemas     map[string]*jsonschema.Schema // action -> compiled inputSchema
	agentDataSchemas map[string]*jsonschema.Schema // action -> compiled agentDataSchema (template actions)
	userContentSchemas map[string]*jsonschema.Schema // action -> compiled userContentSchema (passthrough actions)
}

// Gateway is the top-level library API: it owns the manifest registry, the
// computed tool surface, and every ambient subsystem (storage, config,
// content, sessions, dispatch) a loaded trik might need.
type Gateway struct {
	mu     sync.RWMutex
	triks  map[string]*loadedTrik
	tools  map[string]manifest.ToolDefinition

	hostRuntime manifest.Runtime

	storageProvider storage.Provider
	configStore     *config.Store
	contentStore    content.Store
	sessionStore    *session.Store
	workers         *workerproc.Manager
	runner          *internalrunner.Registry
}

// Options configures a new Gateway. All fields are required except
// HostRuntime, which defaults to "go" (TrikHub's own host runtime).
type Options struct {
	HostRuntime     manifest.Runtime
	StorageProvider storage.Provider
	ConfigStore     *config.Store
	ContentStore    content.Store
	RuntimeSpecs    map[string]workerproc.RuntimeSpec
	Runner          *internalrunner.Registry
}

// New constructs a Gateway. The returned Gateway has no triks loaded yet.
func New(opts Options) *Gateway {
	hostRuntime := opts.HostRuntime
	if hostRuntime == "" {
		hostRuntime = manifest.Runtime("go")
	}
	g := &Gateway{
		triks:           make(map[string]*loadedTrik),
		tools:           make(map[string]manifest.ToolDefinition),
		hostRuntime:     hostRuntime,
		storageProvider: opts.StorageProvider,
		configStore:     opts.ConfigStore,
		contentStore:    opts.ContentStore,
		sessionStore:    session.NewStore(),
		runner:          opts.Runner,
	}
	g.workers = workerproc.NewManager(opts.RuntimeSpecs, g.resolveStorageHandle)
	return g
}

// LoadTrik parses and validates the manifest at dir/manifest.json,
// registers its tool surface, and records it for dispatch. A manifest whose
// id is already registered fails with ErrDuplicateTrik.
func (g *Gateway) LoadTrik(dir string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("core: read manifest: %w", err)
	}
	m, diags, err := manifest.Parse(data)
	if err != nil {
		if len(diags) > 0 {
			return nil, fmt.Errorf("core: manifest validation failed (%d diagnostics): %w", len(diags), err)
		}
		return nil, fmt.Errorf("core: manifest validation failed: %w", err)
	}

	lt := &loadedTrik{
		manifest:           m,
		dir:                dir,
		entryPath:          filepath.Join(dir, m.Entry.Path),
		inputSchemas:       make(map[string]*jsonschema.Schema),
		agentDataSchemas:   make(map[string]*jsonschema.Schema),
		userContentSchemas: make(map[string]*jsonschema.Schema),
	}
	for name, action := range m.Actions {
		if s, err := compileSchema(action.InputSchema); err == nil {
			lt.inputSchemas[name] = s
		} else {
			return nil, fmt.Errorf("core: compile inputSchema for action %q: %w", name, err)
		}
		switch action.ResponseMode {
		case manifest.ModeTemplate:
			s, err := compileSchema(action.AgentDataSchema)
			if err != nil {
				return nil, fmt.Errorf("core: compile agentDataSchema for action %q: %w", name, err)
			}
			lt.agentDataSchemas[name] = s
		case manifest.ModePassthrough:
			s, err := compileSchema(action.UserContentSchema)
			if err != nil {
				return nil, fmt.Errorf("core: compile userContentSchema for action %q: %w", name, err)
			}
			lt.userContentSchemas[name] = s
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.triks[m.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTrik, m.ID)
	}
	g.triks[m.ID] = lt
	for name, action := range m.Actions {
		toolName := m.ID + ":" + name
		g.tools[toolName] = manifest.ToolDefinition{
			Name:         toolName,
			Description:  action.Description,
			InputSchema:  action.InputSchema,
			ResponseMode: action.ResponseMode,
		}
	}
	return m, nil
}

// unregisterLocked removes a trik's tool surface and registration. Callers
// must hold g.mu.
func (g *Gateway) unregisterLocked(trikID string) {
	lt, ok := g.triks[trikID]
	if !ok {
		return
	}
	for name := range lt.manifest.Actions {
		delete(g.tools, trikID+":"+name)
	}
	delete(g.triks, trikID)
	g.runner.Unregister(trikID)
}

// Reload re-parses the manifest at dir, replacing any existing registration
// for the same trik id — the documented path for picking up on-disk
// manifest changes, since a second LoadTrik of the same id is an error.
func (g *Gateway) Reload(dir string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("core: read manifest: %w", err)
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ID != "" {
		g.mu.Lock()
		g.unregisterLocked(probe.ID)
		g.mu.Unlock()
	}
	return g.LoadTrik(dir)
}

// registryConfig is the shape of <root>/.trikhub/config.json's registry
// section: the declared trik list and their recorded runtimes.
type registryConfig struct {
	Triks    []string          `json:"triks"`
	Runtimes map[string]string `json:"runtimes"`
}

// LoadTriksFromConfig bulk-loads every trik named in configPath's "triks"
// list, resolving each one's directory as baseDir/<trik-id-basename>.
func (g *Gateway) LoadTriksFromConfig(configPath, baseDir string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("core: read registry config: %w", err)
	}
	var cfg registryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("core: parse registry config: %w", err)
	}
	for _, trikID := range cfg.Triks {
		dir := filepath.Join(baseDir, filepath.Base(trikID))
		if _, err := g.LoadTrik(dir); err != nil {
			return fmt.Errorf("core: load trik %q: %w", trikID, err)
		}
	}
	return nil
}

// GetToolDefinitions returns the computed agent-facing tool surface.
func (g *Gateway) GetToolDefinitions() []manifest.ToolDefinition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]manifest.ToolDefinition, 0, len(g.tools))
	for _, t := range g.tools {
		out = append(out, t)
	}
	return out
}

// DeliverContent redeems a passthrough receipt reference, returning false
// when it is missing or expired.
func (g *Gateway) DeliverContent(ctx context.Context, ref string) (*content.PassthroughContent, bool, error) {
	return g.contentStore.Take(ctx, ref)
}

// Shutdown stops every worker subprocess and closes the storage backend.
// It does not clear the in-memory session store: sessions stay in it until
// they are ended, expire, or the process exits.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.workers.Shutdown(ctx)
	return g.storageProvider.Close()
}

// resolveStorageHandle is handed to workerproc.Manager so an in-flight
// worker's storage.* RPCs reach the same Handle an in-process runtime would
// use, scoped to the invoking trik and its declared quota.
func (g *Gateway) resolveStorageHandle(trikID string) (storage.Handle, bool) {
	g.mu.RLock()
	lt, ok := g.triks[trikID]
	g.mu.RUnlock()
	if !ok || lt.manifest.Capabilities.Storage == nil || !lt.manifest.Capabilities.Storage.Enabled {
		return storage.Handle{}, false
	}
	return storage.ForTrik(g.storageProvider, trikID, lt.manifest.Capabilities.Storage.MaxSizeBytes), true
}
