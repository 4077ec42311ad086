package deal

import (
	"time"
)

// Category is one of the fixed listing categories of the aggregation site
type Category struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Categories lists every category crawled in a cycle, in crawl order
var Categories = []Category{
	{Code: "1", Name: "기타"},
	{Code: "2", Name: "디지털/가전"},
	{Code: "3", Name: "컴퓨터"},
	{Code: "4", Name: "패션/뷰티"},
	{Code: "5", Name: "식품/건강"},
	{Code: "6", Name: "생활/취미"},
}

// LookupCategory returns the category with the given code
func LookupCategory(code string) (Category, bool) {
	for _, c := range Categories {
		if c.Code == code {
			return c, true
		}
	}
	return Category{}, false
}

// CompositeKeyPrefix namespaces identifiers for cross-system joins
const CompositeKeyPrefix = "algumon-"

// Deal is the canonical record produced from one listing
type Deal struct {
	ID           string    `json:"deal_id"`
	Title        string    `json:"title"`
	Price        int       `json:"price,omitempty"`
	HasPrice     bool      `json:"has_price"`
	PriceDisplay string    `json:"price_text"`
	URL          string    `json:"url"`
	Category     Category  `json:"category"`
	SiteLabel    string    `json:"site_name,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Description  string    `json:"description,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// CompositeKey returns the namespaced key derived from the identifier
func (d Deal) CompositeKey() string {
	return CompositeKeyPrefix + d.ID
}

// IDs returns the identifiers of deals in order
func IDs(deals []Deal) []string {
	ids := make([]string, 0, len(deals))
	for _, d := range deals {
		ids = append(ids, d.ID)
	}
	return ids
}

// RawListing is the bag of located strings for one listing element
type RawListing struct {
	Href        string
	AnchorTitle string
	AnchorText  string
	TitleText   string
	ImageSrc    string
	Description string
	SiteLabel   string
	SiteAttr    string
	PriceText   string
}
