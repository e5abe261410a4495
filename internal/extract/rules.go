// Package extract turns declarative per-source rules into crawler.Strategy
// implementations. A rule maps each record field to a locator over a parsed
// document, so a new source is a new rule set rather than new pipeline code.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

// ListingLocator returns the detail entries found on a listing page. Entry
// URLs may be relative; the strategy resolves them.
type ListingLocator func(doc *crawler.Document) ([]crawler.ListingEntry, error)

// TextLocator returns the text of a required field.
type TextLocator func(doc *crawler.Document) (string, error)

// ViewsLocator returns the view counter of a detail page.
type ViewsLocator func(doc *crawler.Document) (crawler.Views, error)

// DateLocator returns the publish date of a detail page in epoch seconds.
type DateLocator func(doc *crawler.Document) (int64, error)

// Rules is the declarative field-extraction rule set of one source.
type Rules struct {
	Source  crawler.Source
	Listing ListingLocator
	Title   TextLocator
	// Body lists candidate selectors for the article body container; the
	// first one that matches wins.
	Body []string
	// Paragraph and Code select nodes inside the body. Defaults: "p" and "pre".
	Paragraph string
	Code      string
	Views     ViewsLocator
	Date      DateLocator
}

// ChinaStandardTime is the wall clock the sources print dates in.
var ChinaStandardTime = time.FixedZone("CST", 8*60*60)

var dateTextPattern = regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}[ T]\d{1,2}:\d{2}(?::\d{2})?`)

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-1-2 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-1-2 15:04",
	"2006-01-02T15:04",
}

// Text locates the first node matching any of the selectors and returns its
// trimmed text. Empty text counts as missing.
func Text(selectors ...string) TextLocator {
	return func(doc *crawler.Document) (string, error) {
		sel, err := first(doc, selectors)
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return "", fmt.Errorf("%w: %s is empty", crawler.ErrNodeMissing, strings.Join(selectors, ", "))
		}
		return text, nil
	}
}

// Links collects the href attribute of every node matching selector, in
// document order. No match yields an empty list.
func Links(selector string) ListingLocator {
	return func(doc *crawler.Document) ([]crawler.ListingEntry, error) {
		var out []crawler.ListingEntry
		doc.HTML.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
				out = append(out, crawler.ListingEntry{URL: href})
			}
		})
		return out, nil
	}
}

// Refs wraps bare detail references as listing entries without metadata.
func Refs(refs ...string) []crawler.ListingEntry {
	out := make([]crawler.ListingEntry, 0, len(refs))
	for _, ref := range refs {
		if strings.TrimSpace(ref) != "" {
			out = append(out, crawler.ListingEntry{URL: ref})
		}
	}
	return out
}

// TextViews keeps the text of the counter node as is.
func TextViews(selectors ...string) ViewsLocator {
	text := Text(selectors...)
	return func(doc *crawler.Document) (crawler.Views, error) {
		s, err := text(doc)
		if err != nil {
			return crawler.Views{}, err
		}
		return crawler.ViewsText(s), nil
	}
}

// TextDate finds a "YYYY-MM-DD HH:MM[:SS]" timestamp inside the node text and
// interprets it in loc.
func TextDate(loc *time.Location, selectors ...string) DateLocator {
	text := Text(selectors...)
	return func(doc *crawler.Document) (int64, error) {
		s, err := text(doc)
		if err != nil {
			return 0, err
		}
		return ParseDate(s, loc)
	}
}

// ParseDate extracts the first timestamp from free text.
func ParseDate(text string, loc *time.Location) (int64, error) {
	match := dateTextPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("no timestamp in %q", text)
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, match, loc); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", match)
}

// ScriptJSON decodes the JSON content of the first script matching selector into v.
func ScriptJSON(doc *crawler.Document, selector string, v any) error {
	sel, err := first(doc, []string{selector})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(sel.Text()), v); err != nil {
		return fmt.Errorf("decode %s: %w", selector, err)
	}
	return nil
}

// JSONBody decodes a JSON API response body into v.
func JSONBody(doc *crawler.Document, v any) error {
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	return nil
}

// FlexInt accepts a JSON number or a numeric JSON string.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return fmt.Errorf("empty number")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return fmt.Errorf("parse number %q: %w", raw, err)
		}
		n = int64(fl)
	}
	*f = FlexInt(n)
	return nil
}

func first(doc *crawler.Document, selectors []string) (*goquery.Selection, error) {
	for _, selector := range selectors {
		if sel := doc.HTML.Find(selector).First(); sel.Length() > 0 {
			return sel, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", crawler.ErrNodeMissing, strings.Join(selectors, ", "))
}
