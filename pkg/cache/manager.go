package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	stateFile    = "state.json"
	manifestFile = "manifest.json"
	filesDir     = "files"
)

// FrameworkVersion is recorded in every manifest
var FrameworkVersion = "0.4.0"

// State is a resumable checkpoint of a session
type State struct {
	Fingerprint string        `json:"fingerprint"`
	Task        string        `json:"task,omitempty"`
	Messages    []llm.Message `json:"messages"`
	History     []llm.Message `json:"full_history"`
	Turn        int           `json:"turn"`
	Metadata    metadata.Run  `json:"run_metadata"`
	// ExecEnvFiles is "files" when the exec env was mirrored into the cache
	ExecEnvFiles string    `json:"exec_env_files,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Warnings holds manifest drift notices from the last LoadState
	Warnings []string `json:"-"`
}

// Manifest records what produced a checkpoint
type Manifest struct {
	Model            string    `json:"model"`
	ToolNames        []string  `json:"tool_names"`
	FrameworkVersion string    `json:"framework_version"`
	Timestamp        time.Time `json:"timestamp"`
	Fingerprint      string    `json:"fingerprint"`
}

// SaveOptions carries the optional parts of a checkpoint
type SaveOptions struct {
	// ExecEnvDir is mirrored into files/ when set
	ExecEnvDir string
	Model      string
	ToolNames  []string
}

// Info summarizes a cache entry without loading the whole history
type Info struct {
	Fingerprint string    `json:"fingerprint"`
	Turn        int       `json:"turn"`
	Messages    int       `json:"messages"`
	Model       string    `json:"model,omitempty"`
	ToolNames   []string  `json:"tool_names,omitempty"`
	HasFiles    bool      `json:"has_files"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Config configures a Manager
type Config struct {
	BaseDir string
	Logger  *zerolog.Logger
}

// Manager persists session checkpoints under BaseDir/<fingerprint>/
type Manager struct {
	baseDir    string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Manager. An empty BaseDir defaults to ~/.stirrup/cache.
func New(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	baseDir := cfg.BaseDir
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".stirrup", "cache")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		baseDir:    baseDir,
		logger:     logger.With().Str("component", "cache").Logger(),
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// BaseDir returns the cache root
func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) dir(fp string) string {
	return filepath.Join(m.baseDir, fp)
}

// FilesDir returns where the exec env mirror of fp lives
func (m *Manager) FilesDir(fp string) string {
	return filepath.Join(m.dir(fp), filesDir)
}

// getWriteLock gets or creates a write lock for a fingerprint
func (m *Manager) getWriteLock(fp string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.writeLocks[fp]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	m.writeLocks[fp] = lock
	return lock
}

// SaveState writes a checkpoint. state.json and manifest.json are replaced
// atomically; the exec env is mirrored incrementally when opts.ExecEnvDir is set.
func (m *Manager) SaveState(ctx context.Context, fp string, state *State, opts SaveOptions) (err error) {
	ctx = tracing.WithFingerprint(ctx, fp)
	ctx, span := tracing.StartSpan(ctx, "stirrup/cache", "cache.save",
		attribute.String("fingerprint", fp),
		attribute.Int("turn", state.Turn),
	)
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	start := time.Now()
	defer func() {
		observability.RecordCacheSave(time.Since(start))
	}()

	if err := ValidateFingerprint(fp); err != nil {
		return err
	}

	lock := m.getWriteLock(fp)
	lock.Lock()
	defer lock.Unlock()

	dir := m.dir(fp)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cache entry: %w", err)
	}

	snapshot := *state
	snapshot.Fingerprint = fp
	snapshot.UpdatedAt = time.Now().UTC()
	snapshot.ExecEnvFiles = ""

	if opts.ExecEnvDir != "" {
		stats, err := SyncTree(opts.ExecEnvDir, m.FilesDir(fp))
		if err != nil {
			return fmt.Errorf("failed to mirror exec env: %w", err)
		}
		observability.RecordSync(stats.FilesCopied, stats.BytesCopied, stats.Removed)
		snapshot.ExecEnvFiles = filesDir
		logger.Debug().
			Int("files_copied", stats.FilesCopied).
			Int64("bytes_copied", stats.BytesCopied).
			Int("removed", stats.Removed).
			Msg("Exec env mirrored")
	}

	if err := writeJSONAtomic(filepath.Join(dir, stateFile), &snapshot); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	toolNames := append([]string{}, opts.ToolNames...)
	sort.Strings(toolNames)
	manifest := Manifest{
		Model:            opts.Model,
		ToolNames:        toolNames,
		FrameworkVersion: FrameworkVersion,
		Timestamp:        snapshot.UpdatedAt,
		Fingerprint:      fp,
	}
	if err := writeJSONAtomic(filepath.Join(dir, manifestFile), &manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	state.UpdatedAt = snapshot.UpdatedAt
	state.ExecEnvFiles = snapshot.ExecEnvFiles

	logger.Debug().Int("turn", state.Turn).Msg("Checkpoint saved")
	return nil
}

// LoadState returns the checkpoint for fp, or nil when there is none.
// An unreadable state is treated as a miss. Model or tool drift against the
// manifest is logged as a warning and recorded in State.Warnings; it never
// invalidates the checkpoint.
func (m *Manager) LoadState(ctx context.Context, fp, model string, toolNames []string) (_ *State, err error) {
	ctx = tracing.WithFingerprint(ctx, fp)
	ctx, span := tracing.StartSpan(ctx, "stirrup/cache", "cache.load", attribute.String("fingerprint", fp))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if err := ValidateFingerprint(fp); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(m.dir(fp), stateFile))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug().Err(err).Msg("Cached state unreadable, ignoring")
		}
		observability.RecordCacheLoad("miss")
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Debug().Err(err).Msg("Cached state corrupt, ignoring")
		observability.RecordCacheLoad("corrupt")
		return nil, nil
	}
	if state.Metadata == nil {
		state.Metadata = metadata.Run{}
	}

	state.Warnings = m.checkManifest(logger, fp, model, toolNames)
	observability.RecordCacheLoad("hit")

	logger.Info().Int("turn", state.Turn).Msg("Resuming from checkpoint")
	return &state, nil
}

// checkManifest compares the stored manifest with the current model and tools
func (m *Manager) checkManifest(logger zerolog.Logger, fp, model string, toolNames []string) []string {
	data, err := os.ReadFile(filepath.Join(m.dir(fp), manifestFile))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug().Err(err).Msg("Manifest unreadable, skipping validation")
		}
		return nil
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		logger.Debug().Err(err).Msg("Manifest corrupt, skipping validation")
		return nil
	}

	var warnings []string

	if manifest.Model != "" && model != "" && manifest.Model != model {
		msg := fmt.Sprintf("Cache model changed: checkpoint was created with %q, resuming with %q", manifest.Model, model)
		logger.Warn().Str("cached_model", manifest.Model).Str("model", model).Msg(msg)
		observability.RecordCacheDrift("model")
		warnings = append(warnings, msg)
	}

	if toolNames != nil && (manifest.Model != "" || len(manifest.ToolNames) > 0) {
		added, removed := diffNames(manifest.ToolNames, toolNames)
		if len(added) > 0 || len(removed) > 0 {
			msg := fmt.Sprintf("Cache tools changed: added [%s], removed [%s]",
				strings.Join(added, ", "), strings.Join(removed, ", "))
			logger.Warn().Strs("added", added).Strs("removed", removed).Msg(msg)
			observability.RecordCacheDrift("tools")
			warnings = append(warnings, msg)
		}
	}

	if manifest.FrameworkVersion != "" && manifest.FrameworkVersion != FrameworkVersion {
		logger.Debug().
			Str("cached_version", manifest.FrameworkVersion).
			Str("version", FrameworkVersion).
			Msg("Checkpoint written by a different framework version")
	}

	return warnings
}

// diffNames returns names in current but not cached, and cached but not current
func diffNames(cached, current []string) (added, removed []string) {
	cachedSet := make(map[string]struct{}, len(cached))
	for _, name := range cached {
		cachedSet[name] = struct{}{}
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, name := range current {
		currentSet[name] = struct{}{}
		if _, ok := cachedSet[name]; !ok {
			added = append(added, name)
		}
	}
	for _, name := range cached {
		if _, ok := currentSet[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// RestoreFiles mirrors the cached exec env of fp into dst. It reports false
// when the checkpoint has no files.
func (m *Manager) RestoreFiles(ctx context.Context, fp, dst string) (_ bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "stirrup/cache", "cache.restore_files", attribute.String("fingerprint", fp))
	defer func() { tracing.EndSpan(span, err) }()

	if err := ValidateFingerprint(fp); err != nil {
		return false, err
	}

	src := m.FilesDir(fp)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return false, nil
	}

	stats, err := SyncTree(src, dst)
	if err != nil {
		return false, fmt.Errorf("failed to restore exec env: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().
		Str("fingerprint", fp).
		Int("files_copied", stats.FilesCopied).
		Msg("Exec env restored from cache")
	return true, nil
}

// Exists reports whether a checkpoint for fp is on disk
func (m *Manager) Exists(fp string) bool {
	if ValidateFingerprint(fp) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(m.dir(fp), stateFile))
	return err == nil
}

// Clear removes the cache entry for fp
func (m *Manager) Clear(ctx context.Context, fp string) error {
	if err := ValidateFingerprint(fp); err != nil {
		return err
	}

	lock := m.getWriteLock(fp)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(m.dir(fp)); err != nil {
		return fmt.Errorf("failed to clear cache entry: %w", err)
	}

	m.locksMu.Lock()
	delete(m.writeLocks, fp)
	m.locksMu.Unlock()

	observability.RecordCacheAudit(ctx, "clear", fp, nil)
	logger := tracing.LoggerFromContext(ctx, m.logger)
	logger.Info().Str("fingerprint", fp).Msg("Cache entry cleared")
	return nil
}

// List returns the fingerprints that have a saved state, sorted
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	fps := []string{}
	for _, entry := range entries {
		if entry.IsDir() && m.Exists(entry.Name()) {
			fps = append(fps, entry.Name())
		}
	}
	sort.Strings(fps)
	return fps, nil
}

// Info returns a summary of the cache entry for fp
func (m *Manager) Info(fp string) (*Info, error) {
	if err := ValidateFingerprint(fp); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(m.dir(fp), stateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	// Decode only the summary fields
	var summary struct {
		Turn         int               `json:"turn"`
		Messages     []json.RawMessage `json:"messages"`
		ExecEnvFiles string            `json:"exec_env_files"`
		UpdatedAt    time.Time         `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	info := &Info{
		Fingerprint: fp,
		Turn:        summary.Turn,
		Messages:    len(summary.Messages),
		HasFiles:    summary.ExecEnvFiles != "",
		UpdatedAt:   summary.UpdatedAt,
	}

	if data, err := os.ReadFile(filepath.Join(m.dir(fp), manifestFile)); err == nil {
		var manifest Manifest
		if json.Unmarshal(data, &manifest) == nil {
			info.Model = manifest.Model
			info.ToolNames = manifest.ToolNames
		}
	}

	return info, nil
}

// writeJSONAtomic writes v to path through a temp file and rename
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}
