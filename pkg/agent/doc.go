// Package agent runs LLM agents that call tools until a finish tool is invoked
// or the turn budget runs out.
//
// Invariants:
// - Tool calls of one turn run concurrently; their messages are appended in call order.
// - State is checkpointed through the cache manager once per completed turn.
// - The full history keeps every message, including those dropped by summarization.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{Name: "coder", Client: client, Providers: providers})
//	session := a.NewSession(agent.SessionOptions{Cache: cacheManager, Resume: true})
//	result, err := session.Run(ctx, "write a haiku to haiku.txt")
//	if err == nil && result.Status == agent.StatusFinished {
//		fmt.Println(result.Finish.Reason)
//	}
package agent
