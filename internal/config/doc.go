// Package config defines the launcher settings and provides helpers to load,
// validate and save them in YAML format.
//
// Besides the settings file it resolves the inputs the command line layer
// combines into the single immutable Config passed to the pipeline: client
// arguments from the environment or the command line, an optional dotenv
// file, and the runtime flags derived from the rendering mode.
package config
