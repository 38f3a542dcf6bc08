// Package hocr reads the page-level metadata pagebind needs from hOCR files:
// the page bounding box, the declared languages and the document title.
package hocr

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pagebind/internal/language"
)

// BBox is a rectangle in hOCR pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 int
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Page is the metadata of one hOCR document.
type Page struct {
	Path  string
	Title string
	// BBox is nil when the first ocr_page element has no usable bbox.
	BBox      *BBox
	Languages []string
}

// Direction returns the reading direction implied by the declared languages.
func (p Page) Direction() language.Direction {
	return language.DirectionOf(p.Languages)
}

// ParseFile reads and parses the hOCR document at path.
func ParseFile(path string) (Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return Page{}, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return Page{}, fmt.Errorf("parse hocr %s: %w", path, err)
	}
	page := Page{
		Path:      path,
		Title:     strings.TrimSpace(doc.Find("title").First().Text()),
		Languages: declaredLanguages(doc),
	}
	if title, ok := doc.Find("div.ocr_page").First().Attr("title"); ok {
		if box, ok := ParseBBox(title); ok {
			page.BBox = &box
		}
	}
	return page, nil
}

// declaredLanguages collects <meta name="language"> values, then falls back
// to the lang attributes of the document and page elements.
func declaredLanguages(doc *goquery.Document) []string {
	var langs []string
	doc.Find(`meta[name="language"], meta[name="ocr-langs"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			langs = append(langs, strings.TrimSpace(content))
		}
	})
	if len(langs) > 0 {
		return langs
	}
	for _, selector := range []string{"html", "div.ocr_page"} {
		sel := doc.Find(selector).First()
		for _, attr := range []string{"lang", "xml:lang"} {
			if value, ok := sel.Attr(attr); ok && strings.TrimSpace(value) != "" {
				return []string{strings.TrimSpace(value)}
			}
		}
	}
	return nil
}

// ParseBBox extracts the "bbox x1 y1 x2 y2" property from an hOCR title
// attribute. Boxes with non-positive width are rejected.
func ParseBBox(title string) (BBox, bool) {
	for _, prop := range strings.Split(title, ";") {
		fields := strings.Fields(prop)
		if len(fields) != 5 || fields[0] != "bbox" {
			continue
		}
		var coords [4]int
		for i, field := range fields[1:] {
			n, err := strconv.Atoi(field)
			if err != nil {
				return BBox{}, false
			}
			coords[i] = n
		}
		box := BBox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
		if box.Width() <= 0 {
			return BBox{}, false
		}
		return box, true
	}
	return BBox{}, false
}
