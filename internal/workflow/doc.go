// Package workflow orchestrates pagebind's batch pipeline.
//
// ProcessBatch takes a batch id from the remote outbox to finished PDFs:
//
//  1. preflight checks (directories, remote, required tools)
//  2. batch cache fetch into the dropbox outbox, verified against CHECKSUMS.txt
//  3. batch CSV download and archive set confirmation
//  4. archive extraction into processing/<book> with name normalization
//  5. per-book html/txt count validation, enumerating every mismatch
//  6. per book: path resolution, OCR matching, then one assemble+merge per
//     configured DPI variant, optional validation, journal and metrics
//
// BuildBook runs step 6 for a single book whose OCR is already matched.
// Each invocation owns <scratch>/<run id>, removed on every exit path.
package workflow
