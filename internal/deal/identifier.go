package deal

import (
	"regexp"
)

// IDRule is one named identifier pattern; the first capture group is the identifier
type IDRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// IDRules are tried in order against a listing reference; first match wins
var IDRules = []IDRule{
	{Name: "listing_path", Pattern: regexp.MustCompile(`/l/d/(\d+)`)},
	{Name: "deal_id_param", Pattern: regexp.MustCompile(`deal_id[=:](\d+)`)},
	{Name: "deal_path", Pattern: regexp.MustCompile(`/deal/(\d+)`)},
	{Name: "id_param", Pattern: regexp.MustCompile(`id[=:](\d+)`)},
}

var validID = regexp.MustCompile(`^\d{3,10}$`)

// ExtractID derives the identifier embedded in a listing reference.
// It returns false when no rule matches.
func ExtractID(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}

	for _, rule := range IDRules {
		if m := rule.Pattern.FindStringSubmatch(ref); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// IsValidID reports whether id has the shape of a deal identifier
func IsValidID(id string) bool {
	return validID.MatchString(id)
}
