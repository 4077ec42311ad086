package deal

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Accepted price bounds; parsed values outside are treated as no price
const (
	MinPrice = 100
	MaxPrice = 10_000_000
)

// NoPriceDisplay is shown when no price could be validated
const NoPriceDisplay = "가격 정보 없음"

// amount matches a grouped ("12,000") or ungrouped ("12000") integer
const amount = `(\d{1,3}(?:,\d{3})+|\d+)`

// PriceRule is one named price pattern; the first capture group is the amount
type PriceRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// PriceRules are tried in order against the title. Bare digits is the
// weakest signal and may pick up numbers that are not prices.
var PriceRules = []PriceRule{
	{Name: "won_suffix", Pattern: regexp.MustCompile(amount + `\s*원`)},
	{Name: "won_parenthesized", Pattern: regexp.MustCompile(`\(` + amount + `\s*원\)`)},
	{Name: "price_label", Pattern: regexp.MustCompile(`(?i)(?:가격|price)\s*[:：]?\s*` + amount)},
	{Name: "bare_digits", Pattern: regexp.MustCompile(amount)},
}

// fallbackRule is the single digit pass applied to the fallback element text
var fallbackRule = regexp.MustCompile(amount)

var printer = message.NewPrinter(language.Korean)

// PriceInfo is the result of price extraction
type PriceInfo struct {
	Price        int
	HasPrice     bool
	PriceDisplay string
}

// ExtractPrice derives a price from the title, falling back to the text of
// a dedicated price element. Ties between several numbers are resolved by
// rule precedence then position, never by magnitude.
func ExtractPrice(title, fallbackText string) PriceInfo {
	for _, rule := range PriceRules {
		if price, ok := matchPrice(rule.Pattern, title); ok {
			return withPrice(price)
		}
	}

	if fallbackText != "" {
		if price, ok := matchPrice(fallbackRule, fallbackText); ok {
			return withPrice(price)
		}
	}

	return PriceInfo{PriceDisplay: NoPriceDisplay}
}

// InPriceBounds reports whether price is an acceptable listing price
func InPriceBounds(price int) bool {
	return price >= MinPrice && price <= MaxPrice
}

// FormatPrice renders a price with thousands grouping and the won suffix
func FormatPrice(price int) string {
	return printer.Sprintf("%d원", price)
}

func matchPrice(pattern *regexp.Regexp, text string) (int, bool) {
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}

	price, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || !InPriceBounds(price) {
		return 0, false
	}
	return price, true
}

func withPrice(price int) PriceInfo {
	return PriceInfo{
		Price:        price,
		HasPrice:     true,
		PriceDisplay: FormatPrice(price),
	}
}
