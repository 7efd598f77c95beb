package events

import (
	"context"

	"github.com/unknown-philosopher/kgraph/internal/types"
)

// Topic is an opaque string key partitioning publish/subscribe traffic.
// Payload schemas per topic are agreed out-of-band by producer and consumer.
type Topic string

// Graph lifecycle topics published by the core services.
const (
	// TopicEntityMerged fires after a duplicate merge has committed.
	// Payload: {"kept_id": ID, "merged_id": ID}.
	TopicEntityMerged Topic = "entity.merged"

	// TopicGraphUpdated fires when entities or relationships change.
	TopicGraphUpdated Topic = "graph.updated"

	// TopicDocumentIngested fires after a document has been chunked,
	// extracted, and written to the store.
	TopicDocumentIngested Topic = "document.ingested"

	// TopicDedupPassCompleted fires at the end of a deduplication pass.
	// Payload: {"candidates": int, "merged": int, "rejected": int}.
	TopicDedupPassCompleted Topic = "dedup.pass.completed"
)

// String returns the string representation of the topic.
func (t Topic) String() string {
	return string(t)
}

// Payload is the event body delivered to every handler of one publish.
// The same map is passed by reference to all handlers, so handlers must
// treat it as read-only.
type Payload map[string]any

// Handler is a callback registered for a topic. Handlers run on their own
// goroutine per delivery and must be safe for concurrent invocation.
type Handler func(ctx context.Context, payload Payload)

// MergeOutcomePayload builds the payload published on TopicEntityMerged.
func MergeOutcomePayload(keptID, mergedID types.ID) Payload {
	return Payload{
		"kept_id":   keptID,
		"merged_id": mergedID,
	}
}

// ParseMergeOutcome extracts the kept and merged entity IDs from an
// entity.merged payload. ok is false if either key is missing or mistyped.
func ParseMergeOutcome(p Payload) (keptID, mergedID types.ID, ok bool) {
	keptID, ok = p["kept_id"].(types.ID)
	if !ok {
		return "", "", false
	}
	mergedID, ok = p["merged_id"].(types.ID)
	if !ok {
		return "", "", false
	}
	return keptID, mergedID, true
}
