// Package server hosts the Fiber HTTP surface in front of a blob cache: the
// request-id middleware, the /blobs fetch/remove endpoints, and the /-/
// diagnostics routes (status, stats, persist, reduce, purge). It also owns the
// shared upstream http.Client that the cache fetcher uses. Keep exports narrow
// and accept explicit dependencies so tests can inject a fake cache.
package server
