// Package extract turns a product detail page into a ProductRecord.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

const (
	defaultMaxReviews = 5
	defaultCategory   = "mobile phones"
	dateLayout        = "2006-01-02"
)

// DefaultRequiredFields must be present for a record to be kept.
var DefaultRequiredFields = []string{"title", "price"}

// Field chains, tried in order.
var (
	PriceChain = Chain{
		Text("#corePriceDisplay_desktop_feature_div .a-price-whole"),
		Text("div.a-section.a-spacing-micro span.a-price.a-text-price.a-size-medium span.a-offscreen"),
	}
	DiscountChain = Chain{
		Percentage("span.a-color-price"),
		Percentage(".savingsPercentage"),
	}
	RatingChain      = Chain{StarRating("span.a-icon-alt")}
	TitleChain       = Chain{Text("#productTitle")}
	ImageChain       = Chain{Attr("#imgTagWrapperId img", "src")}
	DescriptionChain = Chain{Text("#feature-bullets")}
)

// Config controls extraction.
type Config struct {
	RequiredFields []string
	MaxReviews     int
	ParallelTables bool
	Category       string
}

// Extractor parses product detail pages. It is safe for concurrent use.
type Extractor struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs an Extractor.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Extractor {
	if cfg.RequiredFields == nil {
		cfg.RequiredFields = DefaultRequiredFields
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = defaultMaxReviews
	}
	if cfg.Category == "" {
		cfg.Category = defaultCategory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, clock: clock, logger: logger.Named("extract")}
}

// Extract parses body fetched from url. Missing optional fields stay nil; a
// missing required field returns an error wrapping crawler.ErrValidation.
func (e *Extractor) Extract(
	ctx context.Context,
	body string,
	url string,
	region crawler.Region,
) (*crawler.ProductRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse product page: %w", err)
	}

	specs, err := specifications(ctx, doc, e.cfg.ParallelTables)
	if err != nil {
		return nil, err
	}

	record := &crawler.ProductRecord{
		Date:           e.clock.Now().Format(dateLayout),
		URL:            url,
		Site:           region.Site,
		Category:       e.cfg.Category,
		Title:          TitleChain.Resolve(doc),
		Price:          PriceChain.Resolve(doc),
		Discount:       DiscountChain.Resolve(doc),
		Rating:         RatingChain.Resolve(doc),
		ImageURL:       ImageChain.Resolve(doc),
		Description:    DescriptionChain.Resolve(doc),
		Specifications: specs,
		Reviews:        e.reviews(doc),
	}

	if err := e.validate(record); err != nil {
		e.logger.Debug("record dropped", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return record, nil
}

func (e *Extractor) reviews(doc *goquery.Document) []crawler.Review {
	reviews := make([]crawler.Review, 0, e.cfg.MaxReviews)
	cards := doc.Find("div[data-hook='review']")
	cards.Slice(0, min(e.cfg.MaxReviews, cards.Length())).Each(func(_ int, card *goquery.Selection) {
		review := crawler.Review{
			Reviewer: firstText(card, "span.a-profile-name"),
			Rating:   strings.TrimSpace(strings.ReplaceAll(firstText(card, "i.a-icon-star span.a-icon-alt"), starsMarker, "")),
			Date:     firstText(card, "span.review-date"),
			Text:     firstText(card, "span[data-hook='review-body']"),
		}
		// Partial reviews are skipped as a unit.
		if review.Reviewer == "" || review.Rating == "" || review.Date == "" || review.Text == "" {
			return
		}
		reviews = append(reviews, review)
	})
	return reviews
}

func firstText(s *goquery.Selection, selector string) string {
	return strings.TrimSpace(s.Find(selector).First().Text())
}

func (e *Extractor) validate(record *crawler.ProductRecord) error {
	fields := map[string]*string{
		"title":       record.Title,
		"price":       record.Price,
		"discount":    record.Discount,
		"rating":      record.Rating,
		"image_url":   record.ImageURL,
		"description": record.Description,
	}
	for _, name := range e.cfg.RequiredFields {
		if fields[name] == nil {
			return fmt.Errorf("%w: missing %s", crawler.ErrValidation, name)
		}
	}
	return nil
}
