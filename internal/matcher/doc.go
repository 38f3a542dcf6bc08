// Package matcher aligns a delivered OCR file set with the canonical page
// order of a book's master images.
//
// Masters (files ending in _d.tif) sorted byte-wise fix the page order. OCR
// files named <book>_NNNNNN.html and <book>_NNNNNN.txt are sorted the same
// way and renamed positionally: the k-th source file of each extension takes
// the k-th master's base name with an _ocr suffix. Any numbering embedded in
// the source names is ignored. Every precondition is checked before the
// first rename, so a failed match leaves the OCR directory untouched.
package matcher
