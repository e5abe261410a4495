// Package source holds the built-in site definitions: where listing pages
// live, how many workers a site tolerates, and the extraction rules for it.
package source

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/extract"
)

// ErrUnknownSource is returned by Lookup for names that are not registered.
var ErrUnknownSource = errors.New("unknown source")

// Definition describes one harvestable site.
type Definition struct {
	Source crawler.Source
	// Workers is the default size of the worker pool.
	Workers int
	// Pages is the default listing bound handed to Seeds.
	Pages int
	// Seeds enumerates listing URLs for the given bound.
	Seeds func(pages int) []string
	Rules extract.Rules
	// Header is sent with every request for this site.
	Header http.Header
}

// Strategy builds the extraction strategy of the definition.
func (d Definition) Strategy() (*extract.Strategy, error) {
	return extract.New(d.Rules)
}

// Headers returns a copy of the default headers with cookie applied when set.
func (d Definition) Headers(cookie string) http.Header {
	h := d.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if cookie = strings.TrimSpace(cookie); cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// ListingUnits turns seed URLs into numbered queue units.
func ListingUnits(seeds []string) []crawler.ListingUnit {
	units := make([]crawler.ListingUnit, 0, len(seeds))
	for _, s := range seeds {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		units = append(units, crawler.ListingUnit{URL: s, Seq: len(units)})
	}
	return units
}

var registry = []Definition{CnBlog(), CSDN(), JianShu()}

// All returns every registered definition in a stable order.
func All() []Definition {
	out := make([]Definition, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a definition by source name, case-insensitively.
func Lookup(name string) (Definition, error) {
	for _, d := range registry {
		if strings.EqualFold(string(d.Source), strings.TrimSpace(name)) {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.45 Safari/537.36"

// baseHeader is the fixed header set every source starts from.
func baseHeader(userAgent string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Connection", "keep-alive")
	return h
}
