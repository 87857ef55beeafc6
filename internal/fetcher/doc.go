// Package fetcher implements the fetch-and-cache flow: look up a key in the
// disk cache, fall back to the pluggable network fetcher on a miss, and hand
// the body to the caller through a tee that populates the cache only when the
// caller reads the payload to its end. Every fetch outcome, including
// failures, is a *Result the caller owns and must Close.
package fetcher
