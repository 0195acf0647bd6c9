// Package internal holds the typster implementation packages.
//
// Packages, leaves first:
//
//   - value: host data to Typst values, with path-annotated errors
//   - packages: on-disk registry package cache, one download per key
//   - fonts: bundled and system font inventory
//   - world: the compilation environment handed to an engine
//   - engine: the engine contract, export settings and metadata
//   - pipeline: bind, compile, then export or check
//   - vars: variables files and assignments for the CLI
//   - watcher, preview: live re-rendering for the CLI
//   - config, logging, errors, validation, version: ambient support
package internal
