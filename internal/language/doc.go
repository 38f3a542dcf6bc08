// Package language normalizes the language declarations found in OCR output
// and decides the reading direction of a page.
//
// hOCR producers declare languages in several forms: ISO 639-1 ("ar"),
// ISO 639-2 or Tesseract codes ("ara", "fas"), BCP 47 tags ("ar-EG"),
// plus-joined lists ("ara+eng") and English names ("Arabic"). Everything is
// folded to a BCP 47 base language before the script is looked up.
package language
