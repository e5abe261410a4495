package source

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/extract"
)

const cnblogSitehome = "https://www.cnblogs.com/sitehome/p/%d"

const cnblogUserAgent = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/50.0.2661.102 Safari/537.36"

// CnBlog is the cnblogs.com front page feed.
func CnBlog() Definition {
	h := baseHeader(cnblogUserAgent)
	h.Set("Cache-Control", "max-age=0")
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	return Definition{
		Source:  crawler.SourceCnBlog,
		Workers: 10,
		Pages:   200,
		Seeds:   cnblogSeeds,
		Header:  h,
		Rules: extract.Rules{
			Source:  crawler.SourceCnBlog,
			Listing: cnblogListing,
			Title:   extract.Text("#cb_post_title_url", ".postTitle a", ".postTitle", "h1.postTitle"),
			Body:    []string{"#cnblogs_post_body", ".blogpost-body"},
			// The detail page fills #post_view_count from script, so the
			// listing footer is the primary source for views and date.
			Views: extract.TextViews("#post_view_count"),
			Date:  extract.TextDate(extract.ChinaStandardTime, "#post-date"),
		},
	}
}

func cnblogSeeds(pages int) []string {
	seeds := make([]string, 0, max(pages, 0))
	for p := 1; p <= pages; p++ {
		seeds = append(seeds, fmt.Sprintf(cnblogSitehome, p))
	}
	return seeds
}

// cnblogListing reads each post item with the views and date printed in its
// footer. The views counter is the footer link pointing back at the post.
func cnblogListing(doc *crawler.Document) ([]crawler.ListingEntry, error) {
	var out []crawler.ListingEntry
	doc.HTML.Find("article.post-item").Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find("a.post-item-title").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		entry := crawler.ListingEntry{URL: href}
		foot := item.Find("footer")
		foot.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if link, _ := a.Attr("href"); link != href {
				return true
			}
			if views := strings.TrimSpace(a.Find("span").Last().Text()); views != "" {
				entry.Views = crawler.ViewsText(views)
				return false
			}
			return true
		})
		if date, err := extract.ParseDate(foot.Find("span.post-meta-item").Text(), extract.ChinaStandardTime); err == nil {
			entry.Date = date
		}
		out = append(out, entry)
	})
	return out, nil
}
