// Package dedup finds and merges duplicate entities in the knowledge graph.
//
// Candidates come from the similarity index; each surviving pair is
// confirmed with a single-token YES/NO completion call (unless AutoMerge is
// set) and merged inside one store transaction. Confirmation is fail-closed:
// any pipeline failure rejects the pair. Every evaluated pair is retired
// permanently, whatever the outcome, so the same pair is never re-litigated
// within a service's lifetime.
package dedup
