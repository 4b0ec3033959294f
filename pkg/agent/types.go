package agent

import (
	"errors"

	"github.com/harun/stirrup/pkg/cache"
	"github.com/harun/stirrup/pkg/llm"
	"github.com/harun/stirrup/pkg/metadata"
	"github.com/harun/stirrup/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

const (
	defaultName                = "agent"
	defaultMaxTurns            = 30
	defaultSummarizationCutoff = 0.7
	defaultSystemPrompt        = "You are an autonomous agent. Work on the task step by step using the available tools. " +
		"When the task is complete, call the finish tool with a short reason and the paths of any files you produced."
)

// ErrConfig wraps every configuration fault detected before the first turn
var ErrConfig = errors.New("invalid agent configuration")

// Status is the terminal state of a session
type Status int

const (
	StatusFinished Status = iota
	StatusExhausted
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusExhausted:
		return "exhausted"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Config configures an Agent
type Config struct {
	Name   string
	Client llm.Client

	// Providers supply tools with a lifecycle; at most one may be an ExecEnvProvider
	Providers []toolexecutor.Provider
	// Tools are registered as-is alongside provider tools
	Tools []*toolexecutor.Tool

	MaxTurns     int
	SystemPrompt string

	// FinishTool replaces the default finish tool
	FinishTool        *toolexecutor.Tool
	DisableFinishTool bool

	// SummarizationCutoff is the fraction of the context window whose use
	// triggers summarization before the next model call
	SummarizationCutoff float64
	// MaxParallelTools bounds concurrent tool calls within a turn; 0 means unbounded
	MaxParallelTools int

	ToolPolicy *toolexecutor.ToolPolicy
	Registry   toolexecutor.Config
	Logger     *zerolog.Logger
}

// SessionOptions configures a single run
type SessionOptions struct {
	// Cache enables checkpointing; nil runs without persistence
	Cache *cache.Manager
	// Resume continues from an existing checkpoint for the same fingerprint
	Resume bool
	// Fingerprint overrides the key derived from the task and agent
	Fingerprint string
	// DisableCacheOnInterrupt skips the checkpoint flush on cancellation
	DisableCacheOnInterrupt bool
	// OutputDir receives the files named by the finish call
	OutputDir string
}

// Result is what a session hands back to its caller
type Result struct {
	// Finish is nil unless Status is StatusFinished
	Finish      *toolexecutor.FinishParams
	Status      Status
	Turns       int
	Fingerprint string

	History []llm.Message
	// Metadata is Run rolled up across sub-agents
	Metadata map[string][]metadata.Entry
	// Run is the raw per-call metadata of this session
	Run metadata.Run

	// OutputFiles lists the paths copied into SessionOptions.OutputDir
	OutputFiles []string
	Warnings    []string
}
