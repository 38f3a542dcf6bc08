// Package assembler turns matched (master image, hOCR) pairs into
// single-page searchable PDFs.
//
// Each page gets a private scratch directory holding the master resampled to
// the target DPI, a symlink to its hOCR file, and the overlay tool's output.
// Pages run on a bounded errgroup pool. The first failure stops further
// submissions; pages already running finish on the caller's context and
// their output is discarded. Results are returned in page index order no
// matter how the workers complete.
package assembler
