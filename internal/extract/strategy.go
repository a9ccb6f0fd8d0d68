package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const starsMarker = "out of 5 stars"

var discountPattern = regexp.MustCompile(`-?\d+%`)

// Strategy tries to pull one field out of a document.
type Strategy func(*goquery.Document) (string, bool)

// Chain is an ordered list of strategies; the first non-empty result wins.
type Chain []Strategy

// Resolve runs the chain and returns nil when every strategy misses.
func (c Chain) Resolve(doc *goquery.Document) *string {
	for _, strategy := range c {
		if value, ok := strategy(doc); ok && value != "" {
			return &value
		}
	}
	return nil
}

// Text returns the trimmed text of the first element matching selector.
func Text(selector string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := strings.TrimSpace(sel.Text())
		return text, text != ""
	}
}

// Attr returns an attribute of the first element matching selector.
func Attr(selector, attr string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		value, ok := doc.Find(selector).First().Attr(attr)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}
}

// Percentage scans every element matching selector for a percentage.
func Percentage(selector string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = discountPattern.FindString(strings.TrimSpace(s.Text()))
			return found == ""
		})
		return found, found != ""
	}
}

// StarRating reads the first element matching selector and accepts it only
// when it carries the star rating marker.
func StarRating(selector string) Strategy {
	return func(doc *goquery.Document) (string, bool) {
		text := doc.Find(selector).First().Text()
		if !strings.Contains(text, starsMarker) {
			return "", false
		}
		value := strings.TrimSpace(strings.ReplaceAll(text, starsMarker, ""))
		return value, value != ""
	}
}
