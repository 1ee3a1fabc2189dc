// Package tx implements the two-phase transaction pipeline: simulate
// produces an offline cost estimate gated by the guard engine, and execute
// re-validates guards, applies the x402 payment gate, then hands the
// pre-signed payload to an external broadcaster.
package tx
