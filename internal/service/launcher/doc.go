// Package launcher runs the verify, reconcile, download and launch pipeline.
//
// Run is the entry point used by the client-launcher binary. Nothing is
// launched unless the manifest passed signature verification and every
// artifact in the launch plan matched its declared hash when it was checked.
package launcher
