// Package metric provides Prometheus metrics for the storage engine.
//
// Metrics are registered on a private registry owned by Metrics. The engine
// is embedded and exposes no listener; WriteTextfile dumps the registry in
// text exposition format for the node-exporter textfile collector.
//
// Metrics include:
//
//   - Operation counters and latency histograms by op and result
//   - Cache hit and miss counters
//   - Entry count and byte gauges
//   - Cleanup, optimization, deduplication and backup counters
package metric
