// Package module defines the loader collaborator used by the reload engine.
//
// A module is a data file whose top-level mapping is its set of exported
// members. FileLoader resolves specifiers to canonical paths, decodes YAML,
// TOML and JSON files, and caches the decoded members per resolved path until
// Invalidate is called. Exports is the caller-owned destination object that
// reloaded members are merged into.
package module
