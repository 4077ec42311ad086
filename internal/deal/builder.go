package deal

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Record shape limits
const (
	MinTitleLength       = 3
	MaxDescriptionLength = 200
)

// Builder turns raw listings into canonical deals
type Builder struct {
	base *url.URL
	now  func() time.Time
}

// NewBuilder creates a builder resolving relative links against siteURL
func NewBuilder(siteURL string) (*Builder, error) {
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, err
	}
	return &Builder{base: base, now: time.Now}, nil
}

// Build assembles a Deal from a raw listing. It returns nil when the
// identifier or title is missing or malformed; it never returns a partial record.
func (b *Builder) Build(raw RawListing, category Category) *Deal {
	link := b.resolve(strings.TrimSpace(raw.Href))
	if link == "" {
		return nil
	}

	id, ok := ExtractID(link)
	if !ok || !IsValidID(id) {
		return nil
	}

	title := firstNonEmpty(raw.AnchorTitle, raw.AnchorText, raw.TitleText)
	if utf8.RuneCountInString(title) < MinTitleLength {
		return nil
	}

	price := ExtractPrice(title, strings.TrimSpace(raw.PriceText))

	return &Deal{
		ID:           id,
		Title:        title,
		Price:        price.Price,
		HasPrice:     price.HasPrice,
		PriceDisplay: price.PriceDisplay,
		URL:          link,
		Category:     category,
		SiteLabel:    firstNonEmpty(raw.SiteLabel, raw.SiteAttr),
		ImageURL:     b.resolve(strings.TrimSpace(raw.ImageSrc)),
		Description:  truncate(strings.TrimSpace(raw.Description), MaxDescriptionLength),
		CapturedAt:   b.now(),
	}
}

// resolve rewrites a relative reference to an absolute URL on the site origin
func (b *Builder) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.base.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
