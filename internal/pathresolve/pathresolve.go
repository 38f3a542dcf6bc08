// Package pathresolve maps a book identifier onto its archival directories.
//
// The layout is entirely driven by the [books] configuration templates so no
// other package encodes where masters, OCR or auxiliary files live.
package pathresolve

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"pagebind/internal/config"
	"pagebind/internal/services"
)

// BookPaths are the directories associated with one book. OCRDir is empty
// when no OCR template is configured and the caller must supply it.
type BookPaths struct {
	BookID     string
	Partner    string
	Collection string
	MasterDir  string
	OCRDir     string
	AuxDir     string
}

// Resolver resolves book identifiers to directories.
type Resolver interface {
	Resolve(bookID string) (BookPaths, error)
}

// Template renders directory templates containing {partner}, {collection}
// and {book}.
type Template struct {
	pattern *regexp.Regexp
	master  string
	ocr     string
	aux     string
}

// NewTemplate builds a Template resolver from configuration.
func NewTemplate(books config.Books) (*Template, error) {
	pattern, err := regexp.Compile(books.BookIDPattern)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pathresolve", "init", "compile book_id_pattern", err)
	}
	return &Template{
		pattern: pattern,
		master:  books.MasterDirTemplate,
		ocr:     books.OCRDirTemplate,
		aux:     books.AuxDirTemplate,
	}, nil
}

// ParseBookID splits a book identifier into partner and collection using the
// configured pattern's named groups.
func (t *Template) ParseBookID(bookID string) (partner, collection string, err error) {
	bookID = strings.TrimSpace(bookID)
	match := t.pattern.FindStringSubmatch(bookID)
	if match == nil {
		return "", "", services.Wrap(services.ErrValidation, "pathresolve", "parse",
			fmt.Sprintf("invalid book id format: %q", bookID), nil)
	}
	for i, name := range t.pattern.SubexpNames() {
		switch name {
		case "partner":
			partner = match[i]
		case "collection":
			collection = match[i]
		}
	}
	return partner, collection, nil
}

// Resolve renders the configured templates for bookID.
func (t *Template) Resolve(bookID string) (BookPaths, error) {
	bookID = strings.TrimSpace(bookID)
	partner, collection, err := t.ParseBookID(bookID)
	if err != nil {
		return BookPaths{}, err
	}
	replacer := strings.NewReplacer("{partner}", partner, "{collection}", collection, "{book}", bookID)
	render := func(tmpl string) string {
		if tmpl == "" {
			return ""
		}
		return filepath.Clean(replacer.Replace(tmpl))
	}
	return BookPaths{
		BookID:     bookID,
		Partner:    partner,
		Collection: collection,
		MasterDir:  render(t.master),
		OCRDir:     render(t.ocr),
		AuxDir:     render(t.aux),
	}, nil
}
