// Package shutdown coordinates graceful process termination.
//
// Hooks registered with OnShutdown run in reverse order once SIGINT or
// SIGTERM arrives or the parent context is cancelled:
//
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("storage", mgr.CloseContext)
//	err := h.Wait(ctx)
package shutdown
