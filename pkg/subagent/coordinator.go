package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harun/stirrup/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Coordinator records nested agent runs. With a RegistryPath the records are
// persisted after every change.
type Coordinator struct {
	runs         map[string]*RunRecord
	registryPath string
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// CoordinatorConfig holds coordinator configuration
type CoordinatorConfig struct {
	// RegistryPath is where records are saved; empty keeps them in memory
	RegistryPath string
	Logger       *zerolog.Logger
}

// NewCoordinator creates a coordinator and loads an existing registry file
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	c := &Coordinator{
		runs:         make(map[string]*RunRecord),
		registryPath: cfg.RegistryPath,
		logger:       logger.With().Str("component", "subagent").Logger(),
	}
	c.load()
	return c
}

func (c *Coordinator) load() {
	if c.registryPath == "" {
		return
	}

	data, err := os.ReadFile(c.registryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Msg("Failed to read registry file")
		}
		return
	}

	var registry registryFile
	if err := json.Unmarshal(data, &registry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse registry file, starting with empty registry")
		return
	}

	for _, run := range registry.Runs {
		c.runs[run.ID] = run
	}
	c.logger.Debug().Int("runs", len(c.runs)).Msg("Registry loaded")
}

// Start registers a running sub-agent invocation and returns its id.
// ctx is the sub-agent's context; parent names the calling agent.
func (c *Coordinator) Start(ctx context.Context, parent, agentName, task string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:        id,
		TraceID:   tracing.GetTraceID(ctx),
		Parent:    parent,
		Agent:     agentName,
		Task:      task,
		Depth:     tracing.GetDepth(ctx),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.runs[id] = record
	c.saveLocked()
	c.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Str("sub_run_id", id).
		Str("parent", record.Parent).
		Msg("Sub-agent run started")
	return id, nil
}

// Complete moves a run to a terminal status
func (c *Coordinator) Complete(id string, status RunStatus, turns int, runErr error) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, exists := c.runs[id]
	if !exists {
		return fmt.Errorf("run not found: %s", id)
	}

	now := time.Now().UTC()
	record.Status = status
	record.Turns = turns
	record.CompletedAt = &now
	if runErr != nil {
		record.Error = runErr.Error()
	}
	c.saveLocked()

	c.logger.Debug().
		Str("sub_run_id", id).
		Str("status", string(status)).
		Int("turns", turns).
		Msg("Sub-agent run completed")
	return nil
}

// Get returns a copy of the record for id
func (c *Coordinator) Get(id string) (RunRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *record, true
}

// List returns copies of all records ordered by start time
func (c *Coordinator) List() []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]RunRecord, 0, len(c.runs))
	for _, record := range c.runs {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stats counts records by status
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalRuns: len(c.runs)}
	for _, record := range c.runs {
		switch record.Status {
		case StatusRunning:
			stats.ActiveRuns++
		case StatusFinished:
			stats.FinishedRuns++
		case StatusExhausted:
			stats.ExhaustedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusInterrupted:
			stats.InterruptedRuns++
		}
	}
	return stats
}

// saveLocked persists the registry; failures are logged, never returned
func (c *Coordinator) saveLocked() {
	if c.registryPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.registryPath), 0700); err != nil {
		c.logger.Error().Err(err).Msg("Failed to create registry directory")
		return
	}

	runs := make([]*RunRecord, 0, len(c.runs))
	for _, record := range c.runs {
		runs = append(runs, record)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })

	data, err := json.MarshalIndent(registryFile{
		Version:     1,
		Runs:        runs,
		LastUpdated: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal registry")
		return
	}

	tempPath := c.registryPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		c.logger.Error().Err(err).Msg("Failed to write temp registry file")
		return
	}
	if err := os.Rename(tempPath, c.registryPath); err != nil {
		c.logger.Error().Err(err).Msg("Failed to rename registry file")
		os.Remove(tempPath)
	}
}
