// Package notifier delivers formatted announcements to the configured sink.
//
// Delivery is synchronous: the caller learns whether every batch was accepted,
// which is what decides if the records may be marked as seen.
//
// # Batching
//
// Embeds are split into batches of at most Sink.MaxBatch() and sent in order,
// one request per batch. The first failing batch aborts the delivery; batches
// already accepted stay delivered. There are no internal retries: a failed
// entity is picked up again on the next cycle.
//
// # Throttling
//
// Each request first waits on a token bucket so bursts of announcements stay
// under the sink's rate limit.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recently delivered titles.
package notifier
