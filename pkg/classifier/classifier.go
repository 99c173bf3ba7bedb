// Package classifier decides whether a post talks about the pandemic.
package classifier

import (
	"strings"

	"postpulse/pkg/models"
)

var (
	english = []string{
		"covid", "the pandemic", "lockdown", "spikevax", "comirnaty", "vaxzevria",
		"coronavirus", "moderna", "pfizer", "quarantine", "vaccine", "social distancing",
		"booster shot",
	}
	chinese  = []string{"新冠", "疫情", "感染", "疫苗", "隔离"}
	japanese = []string{"コロナ", "検疫", "三密"}
)

// DefaultKeywords returns the built-in keyword list for all supported languages.
func DefaultKeywords() []string {
	out := make([]string, 0, len(english)+len(chinese)+len(japanese))
	out = append(out, english...)
	out = append(out, chinese...)
	return append(out, japanese...)
}

// Classifier matches lower-cased post text against a keyword list.
// Matching is plain substring search; there is no tokenisation.
type Classifier struct {
	keywords []string
}

// New returns a classifier using the built-in keywords plus any extra ones.
func New(extra ...string) *Classifier {
	keywords := DefaultKeywords()
	seen := make(map[string]struct{}, len(keywords)+len(extra))
	for _, k := range keywords {
		seen[k] = struct{}{}
	}
	for _, k := range extra {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keywords = append(keywords, k)
	}
	return &Classifier{keywords: keywords}
}

func (c *Classifier) Keywords() []string {
	return append([]string(nil), c.keywords...)
}

// IsRelevant reports whether text contains any keyword.
func (c *Classifier) IsRelevant(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Label turns a raw post into its processed form.
func (c *Classifier) Label(raw models.RawPost) models.Post {
	return models.Post{
		Relevant:   c.IsRelevant(raw.Text),
		Popularity: raw.Favorites + raw.Reposts,
		Repost:     raw.IsRepost,
		CreatedAt:  raw.CreatedAt,
	}
}

// LabelAll labels a batch of raw posts, keeping their order.
func (c *Classifier) LabelAll(raws []models.RawPost) []models.Post {
	out := make([]models.Post, len(raws))
	for i, r := range raws {
		out[i] = c.Label(r)
	}
	return out
}
