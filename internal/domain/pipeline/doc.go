// Package pipeline models the launcher run as a linear state machine.
//
// A run moves through Idle, FetchingManifest, VerifyingSignature, Reconciling,
// Downloading, VerifyingHashes and Launching to Succeeded, or to Failed from
// any non-terminal state. No state may be skipped and terminal states accept
// no further transitions.
package pipeline
