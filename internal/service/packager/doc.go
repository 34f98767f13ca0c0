// Package packager prepares a signed release manifest for distribution.
//
// It hashes every regular file of an artifact directory, writes the manifest
// document and signs its exact bytes with the publisher key. The manifest, its
// detached signature and the artifacts are then uploaded to the channel
// locations the launcher reads from.
package packager
