package gocomics

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"
)

type parsedPage struct {
	imageURL  string
	canonical string
}

// parsePage extracts the strip image and canonical link. Images are looked up in
// structured data first, then the og:image tag, then any img hosted on assetHost.
func parsePage(body []byte, assetHost string) (parsedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return parsedPage{}, fmt.Errorf("parse html: %w", err)
	}
	var out parsedPage
	out.canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data any
		if json.Unmarshal([]byte(s.Text()), &data) != nil {
			return true
		}
		out.imageURL = findImageObject(data, assetHost)
		return out.imageURL == ""
	})
	if out.imageURL == "" {
		doc.Find(`meta[property="og:image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if content, ok := s.Attr("content"); ok && strings.Contains(content, assetHost) {
				out.imageURL = content
			}
			return out.imageURL == ""
		})
	}
	if out.imageURL == "" {
		doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if src, ok := s.Attr("src"); ok && strings.Contains(src, assetHost) {
				out.imageURL = src
			}
			return out.imageURL == ""
		})
	}
	out.imageURL = stripQuery(out.imageURL)
	return out, nil
}

// findImageObject walks decoded JSON-LD looking for an ImageObject on assetHost.
func findImageObject(data any, assetHost string) string {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if u := findImageObject(item, assetHost); u != "" {
				return u
			}
		}
	case map[string]any:
		if isImageObject(v["@type"]) {
			for _, field := range []string{"contentUrl", "url"} {
				if u, ok := v[field].(string); ok && strings.Contains(u, assetHost) {
					return u
				}
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if u := findImageObject(v[k], assetHost); u != "" {
				return u
			}
		}
	}
	return ""
}

func isImageObject(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "ImageObject"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "ImageObject" {
				return true
			}
		}
	}
	return false
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
