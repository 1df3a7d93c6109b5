package phd

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
)

var (
	comicIDPattern = regexp.MustCompile(`comicid=(\d+)`)
	titlePrefix    = regexp.MustCompile(`(?i)^\s*PHD Comics:\s*`)
)

const imagePathMarker = "comics/archive/phd"

type parsedPage struct {
	ids      []int
	imageURL string
	title    string
}

// parsePage collects the comic ids linked from the page (sorted, deduplicated), the
// og:image strip URL and the strip title.
func parsePage(body []byte) (parsedPage, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return parsedPage{}, fmt.Errorf("parse html: %w", err)
	}
	var out parsedPage

	seen := make(map[int]struct{})
	for _, a := range htmlquery.Find(doc, `//a[contains(@href, "comicid=")]`) {
		for _, m := range comicIDPattern.FindAllStringSubmatch(htmlquery.SelectAttr(a, "href"), -1) {
			id, err := strconv.Atoi(m[1])
			if err != nil || id < 1 {
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				out.ids = append(out.ids, id)
			}
		}
	}
	sort.Ints(out.ids)

	for _, meta := range htmlquery.Find(doc, `//meta[@property="og:image"]`) {
		if content := htmlquery.SelectAttr(meta, "content"); strings.Contains(content, imagePathMarker) {
			out.imageURL = content
			break
		}
	}

	if node := htmlquery.FindOne(doc, "//title"); node != nil {
		out.title = strings.TrimSpace(titlePrefix.ReplaceAllString(htmlquery.InnerText(node), ""))
	}
	return out, nil
}
