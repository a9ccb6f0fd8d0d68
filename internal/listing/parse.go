package listing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

// Page is what one listing page yields.
type Page struct {
	Links []string
	Next  string
}

// Parse extracts product links and the next page link from a listing page.
// Links are resolved against base and deduplicated in document order.
func Parse(body string, base *url.URL, linkSelector, nextSelector string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse listing: %w", err)
	}

	var page Page
	seen := make(map[string]struct{})
	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, ok := crawler.ResolveLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		page.Links = append(page.Links, link)
	})

	doc.Find(nextSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		if next, ok := crawler.ResolveLink(base, href); ok {
			page.Next = next
			return false
		}
		return true
	})
	return page, nil
}
