// Package arena provides a handle-addressed byte arena for short payloads.
//
// Payloads append into one grow-only buffer; callers hold opaque handles
// instead of pointers or slice indexes. Freed bytes stay in place as garbage
// until a compaction slides live payloads together, so frees stay O(1) and
// reads stay zero-copy.
//
// # Features
//
//   - Stable handles across compaction (generation-tagged slots)
//   - Threshold-armed automatic compaction on Put
//   - Hard memory cap with atomic failure (no partial writes)
//   - Zero-copy reads via View, owned copies via Value
//
// # Safety
//
// An Arena is single-owner: methods must not be called concurrently. Stale
// handles (freed, reset, or never issued) fail with ErrStaleHandle rather
// than returning another payload's bytes.
package arena
