// Package cache defines the disk-backed store that maps resource keys to files
// under a single flat cache directory. Entries become visible only through an
// atomic rename of a fully written temp file, so readers never observe a
// partial body and no in-process lock is needed on the read path. A small JSON
// sidecar per entry persists the upstream content type. The fetcher depends on
// this package to serve hits and to populate entries while streaming misses.
package cache
