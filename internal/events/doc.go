// Package events provides the in-process publish/subscribe hub that kgraph
// services use to decouple graph mutations from their downstream consumers
// (cache invalidation, re-indexing, progress reporting).
//
// The bus is topic-keyed and fire-and-forget: Publish snapshots the handler
// list under a short-lived lock and schedules every handler on its own
// goroutine, so a slow or panicking handler never stalls the publisher or
// its sibling handlers. Delivery is best effort within a single process;
// there is no persistence, no cross-process coordination, and no ordering
// guarantee among handlers of one publish.
//
// Outstanding handler goroutines are tracked internally so that Drain and
// Close can wait for in-flight work during shutdown.
package events
