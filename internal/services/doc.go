// Package services defines shared utilities consumed by the pipeline
// components and their external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, book IDs, run IDs, and page
//     indexes for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into journal outcomes (failed vs invalid).
//
// Use these helpers when wiring new component logic so error handling and
// observability stay uniform across the pipeline.
package services
