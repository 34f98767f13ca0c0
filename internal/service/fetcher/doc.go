// Package fetcher retrieves the raw manifest document and its detached signature
// for a release channel. The bytes are returned untouched so the signature can be
// checked over exactly what the server sent.
package fetcher
