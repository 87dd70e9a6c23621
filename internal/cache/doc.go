// Package cache implements a two-tier (memory + disk) blob cache keyed by URL.
// Every read-modify-write of the memory tier runs on a single serializer
// goroutine, so fetch/cancel/evict decisions are atomic. Loads run outside the
// serializer with an ordered fallback disk → remote origin and report back in
// exactly once. Concurrent requests for the same key share one load; callers
// are notified on a Delivery context in registration order. The disk tier is a
// best-effort accelerator: any disk failure degrades to a cache miss and is
// never surfaced to callers.
package cache
