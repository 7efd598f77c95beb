// Package ratelimit bounds concurrency and paces calls to fallible external
// operations, typically LLM completion APIs.
//
// Pacing (MinDelay between call starts) and concurrency (MaxConcurrent
// in-flight operations) are separate knobs because external APIs commonly
// cap requests per second and concurrent requests independently; decoupling
// them lets callers tune for either constraint.
//
// ExecuteWithRetry layers exponential-backoff retry on top of the limiter
// for errors classified as rate-limit responses; every other error
// propagates to the caller immediately.
package ratelimit
