// Package progress defines the one-way interface the pipeline uses to report
// download progress and status text to a presenter.
package progress
