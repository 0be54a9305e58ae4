// Package cmd implements the command-line interface for the mnemo
// persistence mediation toolkit. The CLI is a harness around the
// library: it assembles a storage chain from flags and runs workloads
// against it.
//
// The package is organized into several subpackages:
//
//   - bench: Benchmarks for a configured storage chain
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mnemo -help for a list of all commands.
package cmd
