// Package download streams artifacts into the cache directory one at a time.
//
// Each artifact is written to a hidden temporary file next to its cache entry
// and then swapped in with go-update, so a cache entry is either the previous
// content or the complete new content. Failed transfers are discarded; there
// is no resumption.
package download
