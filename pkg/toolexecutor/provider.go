package toolexecutor

import "context"

// Provider supplies tools that need setup and teardown around a session
type Provider interface {
	Name() string
	// Acquire prepares the provider and returns its tools
	Acquire(ctx context.Context) ([]*Tool, error)
	// Release frees whatever Acquire set up
	Release(ctx context.Context) error
}

// ExecEnvProvider is a Provider that owns an execution environment with a
// working directory. A session has at most one.
type ExecEnvProvider interface {
	Provider
	WorkDir() string
}

// ExecEnvConsumer is a Provider whose tools operate inside the session's
// execution environment. BindExecEnv is called before Acquire.
type ExecEnvConsumer interface {
	Provider
	BindExecEnv(env ExecEnvProvider) error
}

// StaticProvider serves a fixed tool list with no lifecycle
type StaticProvider struct {
	name  string
	tools []*Tool
}

// Static wraps tools in a Provider
func Static(name string, tools ...*Tool) *StaticProvider {
	return &StaticProvider{name: name, tools: tools}
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) Acquire(ctx context.Context) ([]*Tool, error) {
	return p.tools, nil
}

func (p *StaticProvider) Release(ctx context.Context) error { return nil }
