// Package config loads the mirror configuration file and captures the forge
// environment of the hosting CI job.
//
// Load reads a JSON, YAML, or TOML document (chosen by file extension) in
// either the structured "sources" form or the legacy
// repository-to-branch-to-elements map, validates it, and returns an
// immutable MirrorConfig. Resolve merges command-line options, file options
// and built-in defaults, in that order of precedence. LoadEnv reads the forge
// credentials and project identifiers with envconfig.
package config
