package dilbert

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	assetHost    = "assets.amuniversal.com"
	defaultTitle = "Dilbert"
)

// ParsePage extracts the strip image and title from an archived strip page. The
// image comes from the .img-comic element, else the first image served from the
// syndicate asset host. ok is false when no image is found.
func ParsePage(body []byte) (imageURL, title string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", false
	}

	if src, exists := doc.Find(".img-comic").First().Attr("src"); exists && strings.TrimSpace(src) != "" {
		imageURL = normalizeURL(src)
	}
	if imageURL == "" {
		doc.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src, _ := img.Attr("src")
			if strings.Contains(src, assetHost) {
				imageURL = normalizeURL(src)
				return false
			}
			return true
		})
	}
	if imageURL == "" {
		return "", "", false
	}

	title = strings.TrimSpace(doc.Find(".comic-title-name").First().Text())
	if title == "" {
		title = defaultTitle
	}
	return imageURL, title, true
}

func normalizeURL(src string) string {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}
