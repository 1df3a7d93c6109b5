package comicsrss

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/ashmod/panels/internal/comic"
)

var (
	guidDate    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})$`)
	looseDate   = regexp.MustCompile(`(\d{1,2})\s+(\w{3})\s+(\d{4})`)
	pubDateForm = []string{time.RFC1123Z, time.RFC1123}
)

// parseFeed turns the feed's items into strips sorted by date with prev/next linked by
// adjacency. Items without an image or a derivable date are dropped.
func parseFeed(body []byte, endpoint, fallbackTitle string) ([]comic.Strip, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %v", comic.ErrParse, err)
	}

	var strips []comic.Strip
	for _, item := range xmlquery.Find(doc, "//item") {
		imageURL := descriptionImage(childText(item, "description"))
		if imageURL == "" {
			continue
		}
		date, ok := itemDate(childText(item, "guid"), childText(item, "pubDate"))
		if !ok {
			continue
		}
		title := cleanTitle(childText(item, "title"))
		if title == "" {
			title = fallbackTitle
		}
		strips = append(strips, comic.Strip{
			Endpoint:   endpoint,
			Title:      title,
			Identifier: date,
			ImageURL:   imageURL,
			SourceURL:  strings.TrimSpace(childText(item, "link")),
		})
	}

	sort.SliceStable(strips, func(i, j int) bool { return strips[i].Identifier < strips[j].Identifier })
	for i := range strips {
		if i > 0 {
			strips[i].Prev = strips[i-1].Identifier
		}
		if i+1 < len(strips) {
			strips[i].Next = strips[i+1].Identifier
		}
	}
	return strips, nil
}

func childText(item *xmlquery.Node, name string) string {
	if n := item.SelectElement(name); n != nil {
		return n.InnerText()
	}
	return ""
}

// descriptionImage returns the first <img src> of the HTML embedded in an item description.
func descriptionImage(description string) string {
	if strings.TrimSpace(description) == "" {
		return ""
	}
	frag, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		return ""
	}
	src, _ := frag.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// cleanTitle drops the " by <author> for <date>" tail feed titles carry.
func cleanTitle(title string) string {
	if i := strings.Index(title, " by "); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// itemDate prefers a trailing YYYY-MM-DD token in the guid, then the publication date.
func itemDate(guid, pubDate string) (string, bool) {
	if m := guidDate.FindStringSubmatch(strings.TrimSpace(guid)); m != nil {
		if _, err := time.Parse(comic.DateLayout, m[1]); err == nil {
			return m[1], true
		}
	}
	pubDate = strings.TrimSpace(pubDate)
	if pubDate == "" {
		return "", false
	}
	for _, layout := range pubDateForm {
		if t, err := time.Parse(layout, pubDate); err == nil {
			return comic.FormatDate(t), true
		}
	}
	if m := looseDate.FindStringSubmatch(pubDate); m != nil {
		if t, err := time.Parse("2 Jan 2006", m[1]+" "+m[2]+" "+m[3]); err == nil {
			return comic.FormatDate(t), true
		}
	}
	return "", false
}
