package source

import (
	"fmt"
	"net/url"

	"github.com/Evian-Zhang/udiab/internal/crawler"
	"github.com/Evian-Zhang/udiab/internal/extract"
)

// JianShuTypes are the programmer topic ids polled in order.
var JianShuTypes = []int{27, 31, 28, 29, 30, 32, 33}

const jianshuFeed = "https://www.jianshu.com/programmers?page=%d&type_id=%d&count=10"

// JianShu is the jianshu.com programmer topic feed.
func JianShu() Definition {
	h := baseHeader(desktopUserAgent)
	h.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	return Definition{
		Source:  crawler.SourceJianShu,
		Workers: 10,
		Pages:   100,
		Seeds:   jianshuSeeds,
		Header:  h,
		Rules: extract.Rules{
			Source:  crawler.SourceJianShu,
			Listing: jianshuListing,
			Title:   extract.Text("section.ouvJEz h1", "h1._1RuRku", "article h1", "h1"),
			Body:    []string{"section.ouvJEz article", "article"},
			Views:   jianshuViews,
			Date:    jianshuDate,
		},
	}
}

func jianshuSeeds(pages int) []string {
	seeds := make([]string, 0, len(JianShuTypes)*max(pages, 0))
	for _, t := range JianShuTypes {
		for p := 1; p <= pages; p++ {
			seeds = append(seeds, fmt.Sprintf(jianshuFeed, p, t))
		}
	}
	return seeds
}

func jianshuListing(doc *crawler.Document) ([]crawler.ListingEntry, error) {
	var notes []struct {
		Slug string `json:"slug"`
	}
	if err := extract.JSONBody(doc, &notes); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(notes))
	for _, n := range notes {
		if n.Slug != "" {
			refs = append(refs, "/p/"+url.PathEscape(n.Slug))
		}
	}
	return extract.Refs(refs...), nil
}

// jianshuNextData mirrors the part of the embedded page state that carries
// the note counters.
type jianshuNextData struct {
	Props struct {
		InitialState struct {
			Note struct {
				Data *struct {
					ViewsCount    *extract.FlexInt `json:"views_count"`
					LastUpdatedAt *extract.FlexInt `json:"last_updated_at"`
				} `json:"data"`
			} `json:"note"`
		} `json:"initialState"`
	} `json:"props"`
}

func jianshuNote(doc *crawler.Document) (*jianshuNextData, error) {
	var data jianshuNextData
	if err := extract.ScriptJSON(doc, "script#__NEXT_DATA__", &data); err != nil {
		return nil, err
	}
	if data.Props.InitialState.Note.Data == nil {
		return nil, fmt.Errorf("%w: note data", crawler.ErrNodeMissing)
	}
	return &data, nil
}

func jianshuViews(doc *crawler.Document) (crawler.Views, error) {
	data, err := jianshuNote(doc)
	if err != nil {
		return crawler.Views{}, err
	}
	v := data.Props.InitialState.Note.Data.ViewsCount
	if v == nil {
		return crawler.Views{}, fmt.Errorf("%w: views_count", crawler.ErrNodeMissing)
	}
	return crawler.ViewsCount(int64(*v)), nil
}

func jianshuDate(doc *crawler.Document) (int64, error) {
	data, err := jianshuNote(doc)
	if err != nil {
		return 0, err
	}
	v := data.Props.InitialState.Note.Data.LastUpdatedAt
	if v == nil {
		return 0, fmt.Errorf("%w: last_updated_at", crawler.ErrNodeMissing)
	}
	return int64(*v), nil
}
