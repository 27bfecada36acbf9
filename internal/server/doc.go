// Package server implements the HTTP diagnostics endpoints named in
// SPEC_FULL.md §10: /health, /pipeline, /config, and /metrics.
package server 