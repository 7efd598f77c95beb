// Package llm defines the completion-provider boundary and the pipeline
// that coerces unreliable model output into usable values.
//
// The Provider interface abstracts concrete backends (see the providers
// subpackage); Pipeline layers rate limiting, retry-with-backoff on
// throttling, model resolution, and JSON repair on top of it. Callers that
// need structured output use CompleteJSON/CompleteJSONAs and branch on the
// ok result: malformed model output is a soft failure here, never a crash.
package llm
