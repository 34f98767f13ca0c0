// Package instance detects other running launcher processes sharing the cache.
package instance
