// Package cache diffs the flat local artifact directory against a trusted
// manifest and removes files the manifest no longer lists.
package cache
