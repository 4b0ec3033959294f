// Package commandqueue gates how many agent sessions run at once.
//
// Invariants:
// - At most maxConcurrent tasks run at any time; the rest wait in FIFO order.
// - Every submission returns a Handle the caller owns; its error is reported
//   by Handle.Wait or, if nobody waited for it, by Queue.Shutdown.
// - Shutdown cancels every outstanding task and waits for all of them.
//
// Usage:
//
//	q := commandqueue.New(2, nil)
//	h, err := q.Submit(ctx, "research", func(ctx context.Context) (interface{}, error) {
//		return a.Run(ctx, task, agent.SessionOptions{})
//	})
//	result, err := h.Wait(ctx)
//	...
//	err = q.Shutdown(ctx)
package commandqueue
