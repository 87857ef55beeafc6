// Package server hosts the optional Fiber HTTP surface that lets consumers in
// other processes pull assets through the fetcher. It exposes a single fetch
// route that streams the payload and reports whether it came from the disk
// cache, plus diagnostics routes under /-/ for health, metrics and cache
// clearing. Keep exports narrow and accept explicit dependencies.
package server
