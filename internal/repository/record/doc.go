// Package record persists what the last successful launch ran.
//
// The FileRepository stores a Record as YAML next to the launcher settings
// and exposes a Repository interface the launcher service depends on. The
// record is informational: the cache is always reconciled against the
// signed manifest, never against the record.
package record
