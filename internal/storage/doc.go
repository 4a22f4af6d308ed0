// Package storage persists the watcher state between cycles.
//
// It currently supports:
//   - Per-company seen sets (which BODACC record ids were already notified)
//   - An optional audit journal of per-company cycle outcomes
package storage
