package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Source identifies the site an article was harvested from.
type Source string

// Known sources. The string value is written verbatim into every record.
const (
	SourceCnBlog  Source = "CnBlog"
	SourceCSDN    Source = "CSDN"
	SourceJianShu Source = "JianShu"
)

// FileName is the output stream name for the source.
func (s Source) FileName() string {
	return string(s) + ".txt"
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL        string
	MaxRetries int
}

// Document is a fetched and parsed page. It is owned by the unit of work that
// fetched it and is never shared across workers.
type Document struct {
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
	HTML       *goquery.Document
}

// NewDocument parses body as HTML and wraps it together with the response metadata.
func NewDocument(rawURL string, status int, header http.Header, body []byte) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse document url: %w", err)
	}
	html, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document body: %w", err)
	}
	html.Url = u
	return &Document{
		URL:        u,
		StatusCode: status,
		Header:     header,
		Body:       body,
		HTML:       html,
	}, nil
}

// Resolve turns a possibly relative reference into an absolute URL without fragment.
func (d *Document) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	if d != nil && d.URL != nil {
		parsed = d.URL.ResolveReference(parsed)
	}
	parsed.Fragment = ""
	return parsed.String(), nil
}

// Views is the view counter of an article. Sources disagree on its type, so it
// is kept either as the raw text shown on the page or as an integer.
type Views struct {
	text    string
	count   int64
	numeric bool
}

// ViewsText keeps the counter as extracted text.
func ViewsText(s string) Views {
	return Views{text: s}
}

// ViewsCount keeps the counter as an integer.
func ViewsCount(n int64) Views {
	return Views{count: n, numeric: true}
}

// Count returns the integer value when the counter is numeric.
func (v Views) Count() (int64, bool) {
	return v.count, v.numeric
}

// IsZero reports whether no counter was recorded.
func (v Views) IsZero() bool {
	return !v.numeric && v.text == ""
}

// String renders the counter as text.
func (v Views) String() string {
	if v.numeric {
		return strconv.FormatInt(v.count, 10)
	}
	return v.text
}

// MarshalJSON writes a JSON number for numeric counters and a JSON string otherwise.
func (v Views) MarshalJSON() ([]byte, error) {
	if v.numeric {
		return []byte(strconv.FormatInt(v.count, 10)), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (v *Views) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode views text: %w", err)
		}
		*v = ViewsText(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode views count: %w", err)
	}
	*v = ViewsCount(n)
	return nil
}

// Article is one harvested record. It is built once by a strategy from one
// detail document and handed to the sink unchanged.
type Article struct {
	Title   string   `json:"title"`
	Source  Source   `json:"source"`
	URL     string   `json:"url"`
	Content []string `json:"content"`
	Code    []string `json:"code"`
	Views   Views    `json:"views"`
	Date    int64    `json:"date"`
}

// Validate checks the record invariants: content and code present (possibly
// empty) and a positive epoch-seconds date.
func (a Article) Validate() error {
	switch {
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("article %s: empty title", a.URL)
	case a.Content == nil:
		return fmt.Errorf("article %s: content is absent", a.URL)
	case a.Code == nil:
		return fmt.Errorf("article %s: code is absent", a.URL)
	case a.Date <= 0:
		return fmt.Errorf("article %s: invalid date %d", a.URL, a.Date)
	}
	return nil
}

// ListingEntry is one detail page found on a listing page, together with the
// fields the listing already shows for it. Zero-valued fields are unknown and
// are taken from the detail page instead.
type ListingEntry struct {
	URL   string
	Title string
	Views Views
	Date  int64
}

// ListingUnit is one listing page queued for a worker.
type ListingUnit struct {
	URL string
	Seq int
}
