package source

import (
	"fmt"
	"net/url"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/extract"
)

// CSDNCategories are the feed categories polled in order.
var CSDNCategories = []string{
	"home", "career", "python", "java", "c", "ai", "web", "arch", "blockchain", "db", "5g",
	"game", "mobile", "ops", "sec", "cloud", "engineering", "iot", "fund", "avi", "other",
}

const csdnFeed = "https://blog.csdn.net/api/articles?type=more&category=%s&shown_offset=0"

// CSDN is the blog.csdn.net category feed. The feed returns a fresh batch on
// every call, so each category is polled Pages times with the same URL.
func CSDN() Definition {
	h := baseHeader(desktopUserAgent)
	h.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	return Definition{
		Source:  crawler.SourceCSDN,
		Workers: 4,
		Pages:   500,
		Seeds:   csdnSeeds,
		Header:  h,
		Rules: extract.Rules{
			Source:  crawler.SourceCSDN,
			Listing: csdnListing,
			Title:   extract.Text("#articleContentId", ".title-article", ".blog-content-box h1"),
			Body:    []string{"#content_views", ".blog-content-box article"},
			Views:   extract.TextViews(".read-count"),
			Date:    extract.TextDate(extract.ChinaStandardTime, ".article-info-box .time", ".blog-content-box .time"),
		},
	}
}

func csdnSeeds(rounds int) []string {
	seeds := make([]string, 0, len(CSDNCategories)*max(rounds, 0))
	for _, c := range CSDNCategories {
		feed := fmt.Sprintf(csdnFeed, url.QueryEscape(c))
		for i := 0; i < rounds; i++ {
			seeds = append(seeds, feed)
		}
	}
	return seeds
}

type csdnFeedResponse struct {
	Articles []struct {
		URL string `json:"url"`
	} `json:"articles"`
}

func csdnListing(doc *crawler.Document) ([]crawler.ListingEntry, error) {
	var resp csdnFeedResponse
	if err := extract.JSONBody(doc, &resp); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		refs = append(refs, a.URL)
	}
	return extract.Refs(refs...), nil
}
