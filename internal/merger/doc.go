// Package merger concatenates single-page PDFs into the final book document.
//
// The concatenation tool is chosen from a ranked chain (qpdf, pdftk, PDFBox,
// in-process pdfcpu) probed on every call. The merged file then has its
// metadata stripped with exiftool and is linearized with qpdf before it is
// moved into place. Everything happens in a private scratch directory, so a
// destination is either untouched or replaced by a complete document.
package merger
