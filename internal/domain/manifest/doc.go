// Package manifest defines the signed description of the artifact set a client
// needs and parses it from the raw bytes that passed signature verification.
//
// The document is YAML; JSON documents (the format the original bootstrap
// files used) parse as well because JSON is a subset of YAML.
package manifest
