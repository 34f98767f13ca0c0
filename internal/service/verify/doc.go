// Package verify re-hashes every cached artifact immediately before launch.
package verify
