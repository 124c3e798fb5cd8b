// Package main hosts the cvt2bids CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration and logging once, then
// hands each subcommand to the internal packages: convert drives
// internal/conversion, structure drives internal/structure, and doctor,
// history and participants inspect the preflight checks, the run ledger
// and the registry. Keep this package lean; behavior belongs in internal/.
package main
