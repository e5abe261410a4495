package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

// Strategy implements crawler.Strategy from a Rules set.
type Strategy struct {
	rules Rules
}

var _ crawler.Strategy = (*Strategy)(nil)

// New validates the rule set and returns a Strategy.
func New(rules Rules) (*Strategy, error) {
	switch {
	case rules.Source == "":
		return nil, errors.New("rules: source must be set")
	case rules.Listing == nil:
		return nil, fmt.Errorf("rules %s: listing locator must be set", rules.Source)
	case rules.Title == nil:
		return nil, fmt.Errorf("rules %s: title locator must be set", rules.Source)
	case len(rules.Body) == 0:
		return nil, fmt.Errorf("rules %s: body selector must be set", rules.Source)
	case rules.Views == nil:
		return nil, fmt.Errorf("rules %s: views locator must be set", rules.Source)
	case rules.Date == nil:
		return nil, fmt.Errorf("rules %s: date locator must be set", rules.Source)
	}
	if rules.Paragraph == "" {
		rules.Paragraph = "p"
	}
	if rules.Code == "" {
		rules.Code = "pre"
	}
	return &Strategy{rules: rules}, nil
}

// Source reports which site the rules describe.
func (s *Strategy) Source() crawler.Source {
	return s.rules.Source
}

// ExtractListing returns entries with absolute, fragment-free detail URLs in
// page order with duplicates removed; the first occurrence of a URL wins. A
// page without articles yields an empty slice.
func (s *Strategy) ExtractListing(doc *crawler.Document) ([]crawler.ListingEntry, error) {
	if doc == nil {
		return nil, &crawler.ExtractionError{Field: "listing", Err: errors.New("nil document")}
	}
	found, err := s.rules.Listing(doc)
	if err != nil {
		return nil, &crawler.ExtractionError{URL: docURL(doc), Field: "listing", Err: err}
	}
	entries := make([]crawler.ListingEntry, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, entry := range found {
		abs, err := doc.Resolve(entry.URL)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		entry.URL = abs
		entries = append(entries, entry)
	}
	return entries, nil
}

// ExtractDetail builds one Article from a detail page. Fields the listing
// entry already carries win over the detail page locators. Any missing
// required field fails this record only.
func (s *Strategy) ExtractDetail(doc *crawler.Document, entry crawler.ListingEntry) (crawler.Article, error) {
	url := entry.URL
	fail := func(field string, err error) (crawler.Article, error) {
		return crawler.Article{}, &crawler.ExtractionError{URL: url, Field: field, Err: err}
	}
	if doc == nil {
		return fail("document", errors.New("nil document"))
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		var err error
		if title, err = s.rules.Title(doc); err != nil {
			return fail("title", err)
		}
	}
	body, err := first(doc, s.rules.Body)
	if err != nil {
		return fail("body", err)
	}
	views := entry.Views
	if views.IsZero() {
		if views, err = s.rules.Views(doc); err != nil {
			return fail("views", err)
		}
	}
	date := entry.Date
	if date <= 0 {
		if date, err = s.rules.Date(doc); err != nil {
			return fail("date", err)
		}
	}

	article := crawler.Article{
		Title:   title,
		Source:  s.rules.Source,
		URL:     url,
		Content: texts(body.Find(s.rules.Paragraph)),
		Code:    texts(body.Find(s.rules.Code)),
		Views:   views,
		Date:    date,
	}
	if err := article.Validate(); err != nil {
		return fail("record", err)
	}
	return article, nil
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, s.Text())
	})
	return out
}

func docURL(doc *crawler.Document) string {
	if doc.URL == nil {
		return ""
	}
	return strings.TrimSpace(doc.URL.String())
}
