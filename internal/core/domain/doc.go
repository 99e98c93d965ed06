// Package domain defines the core domain models for the storage engine.
//
// Domain models are pure value objects without any IO dependencies or
// framework coupling. This package contains:
//
//   - Entry and Metadata: the unit of storage and its bookkeeping
//   - ContentType: the closed set of payload classifications
//   - AgentSession and Workflow: the typed values kept by the overlays
//   - Errors: storage error definitions with stable codes
package domain
