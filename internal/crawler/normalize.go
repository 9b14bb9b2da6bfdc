package crawler

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"marketwatch/internal/model"
)

// Descriptions recovered from the long-form HTML field are clipped so a
// snapshot row stays a summary, not a product page.
const shortDescriptionLimit = 300

var whitespace = regexp.MustCompile(`\s+`)

// Record turns a parsed product detail into a snapshot record stamped
// with the run's capture time.
func Record(d *DetailResponse, cat model.Category, capturedAt time.Time) model.ProductSnapshotRecord {
	rec := model.ProductSnapshotRecord{
		ProductID:        d.ID,
		CategoryID:       cat.ID,
		CategoryName:     cat.Name,
		Name:             strings.TrimSpace(d.Name),
		ShortDescription: strings.TrimSpace(d.ShortDescription),
		URLKey:           d.URLKey,
		Price:            d.Price.Value,
		Rating:           d.RatingAverage.Value,
		CapturedAt:       capturedAt,
	}

	if rec.ShortDescription == "" && d.Description != "" {
		rec.ShortDescription = clip(flattenHTML(d.Description), shortDescriptionLimit)
	}

	rec.QuantitySold = d.AllTimeQuantitySold.Value
	if rec.QuantitySold == nil && d.QuantitySold != nil {
		rec.QuantitySold = d.QuantitySold.Value.Value
	}

	if d.CurrentSeller != nil && d.CurrentSeller.ID > 0 {
		rec.Seller = &model.SellerInfo{
			ID:   d.CurrentSeller.ID,
			Name: strings.TrimSpace(d.CurrentSeller.Name),
			URL:  d.CurrentSeller.Link,
		}
	}
	return rec
}

// flattenHTML reduces a marked-up description to a single line of plain
// text.
func flattenHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Text(), " "))
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
