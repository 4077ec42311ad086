package postgres

import (
	"fmt"
	"time"

	"sjsage522/dealingest/internal/deal"
)

// dealColumns is the column list shared by both write strategies, deal_id excluded
const dealColumns = `id, title, price, original_price, discount_rate, has_price, price_text,
	mall_name, category, algumon_category, site_name, image_url, url, description,
	source, delivery_info, pub_date, created_at, updated_at, crawled_at`

// dealRow maps a deal onto dealColumns in order
func dealRow(d deal.Deal, now time.Time) []any {
	var price *int
	if d.HasPrice {
		p := d.Price
		price = &p
	}

	captured := d.CapturedAt
	if captured.IsZero() {
		captured = now
	}

	return []any{
		d.CompositeKey(),
		d.Title,
		price,
		price,
		0,
		d.HasPrice,
		d.PriceDisplay,
		MallName,
		defaultCategory,
		d.Category.Code,
		d.SiteLabel,
		d.ImageURL,
		d.URL,
		describe(d),
		Source,
		deliveryInfo,
		captured,
		now,
		now,
		captured,
	}
}

// describe prefixes the description, or the site label when there is none,
// with the category code.
func describe(d deal.Deal) string {
	body := d.Description
	if body == "" {
		body = d.SiteLabel
	}
	return fmt.Sprintf("[카테고리 %s] %s", d.Category.Code, body)
}

func capturedAt(d deal.Deal, now func() time.Time) time.Time {
	if d.CapturedAt.IsZero() {
		return now()
	}
	return d.CapturedAt
}

// placeholders returns "$from, ..., $to"
func placeholders(from, to int) string {
	s := ""
	for i := from; i <= to; i++ {
		if i > from {
			s += ", "
		}
		s += fmt.Sprintf("$%d", i)
	}
	return s
}
