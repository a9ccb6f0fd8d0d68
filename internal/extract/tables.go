package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

type rowShape int

const (
	tableRows rowShape = iota
	listItems
)

type specTable struct {
	name     string
	selector string
	shape    rowShape
}

// specTables are parsed in this order; later tables overwrite earlier keys.
var specTables = []specTable{
	{name: "first_table", selector: ".a-normal.a-spacing-micro", shape: tableRows},
	{name: "tech_specs", selector: "#productDetails_techSpec_section_1", shape: tableRows},
	{name: "right_table", selector: "#productDetails_detailBullets_sections1", shape: tableRows},
	{name: "new_table", selector: "ul.a-unordered-list.a-nostyle.a-vertical.a-spacing-none.detail-bullet-list", shape: listItems},
}

var invisibleMarks = strings.NewReplacer("\u200e", "", "\u200f", "")

// cleanText strips direction marks and collapses whitespace.
func cleanText(text string) string {
	return strings.Join(strings.Fields(invisibleMarks.Replace(text)), " ")
}

// stripKey removes a leading copy of key and any " :" that follows it.
func stripKey(key, value string) string {
	key = cleanText(key)
	value = cleanText(value)
	if rest, ok := strings.CutPrefix(value, key); ok {
		return strings.Trim(rest, " :")
	}
	return value
}

func parseTable(doc *goquery.Document, table specTable) []keyValue {
	root := doc.Find(table.selector).First()
	if root.Length() == 0 {
		return nil
	}
	if table.shape == listItems {
		return parseListItems(root)
	}
	return parseTableRows(root)
}

type keyValue struct {
	key   string
	value string
}

func parseTableRows(root *goquery.Selection) []keyValue {
	var rows []keyValue
	root.Find("tr").Each(func(_ int, row *goquery.Selection) {
		keyCell := row.Find("th, td").First()
		valueCell := row.Find("td").Last()
		if keyCell.Length() == 0 || valueCell.Length() == 0 {
			return
		}
		key := cleanText(keyCell.Text())
		if key == "" {
			return
		}
		rows = append(rows, keyValue{key: key, value: cleanText(valueCell.Text())})
	})
	return rows
}

func parseListItems(root *goquery.Selection) []keyValue {
	var rows []keyValue
	root.Find("li").Each(func(_ int, item *goquery.Selection) {
		keySpan := item.Find("span.a-text-bold").First()
		valueSpan := item.Find("span").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return !s.HasClass("a-text-bold")
		}).First()
		if keySpan.Length() == 0 || valueSpan.Length() == 0 {
			return
		}
		key := cleanText(strings.ReplaceAll(keySpan.Text(), ":", ""))
		if key == "" {
			return
		}
		rows = append(rows, keyValue{key: key, value: stripKey(key, valueSpan.Text())})
	})
	return rows
}

// specifications parses every table and merges them in fixed order.
func specifications(ctx context.Context, doc *goquery.Document, parallel bool) (map[string]string, error) {
	parsed := make([][]keyValue, len(specTables))
	if parallel {
		g, _ := errgroup.WithContext(ctx)
		for i, table := range specTables {
			g.Go(func() error {
				parsed[i] = parseTable(doc, table)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("parse specification tables: %w", err)
		}
	} else {
		for i, table := range specTables {
			parsed[i] = parseTable(doc, table)
		}
	}

	specs := make(map[string]string)
	for _, rows := range parsed {
		for _, kv := range rows {
			specs[kv.key] = kv.value
		}
	}
	return specs, nil
}
