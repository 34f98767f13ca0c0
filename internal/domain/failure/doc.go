// Package failure defines the error taxonomy of the launch pipeline.
//
// Every stage reports failures as *Error values carrying one of the sentinel
// kinds (ErrNetwork, ErrSignatureInvalid, ErrHashMismatch, ErrIO, ErrLaunch,
// ErrCanceled). Callers branch with errors.Is and map kinds to process exit
// codes with ExitCode.
package failure
