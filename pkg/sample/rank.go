// Package sample turns crawled accounts into the cohorts that are collected and analysed.
package sample

import (
	"sort"

	"postpulse/pkg/models"
)

// Ranked is an account reduced to what cohort selection looks at.
type Ranked struct {
	Handle    string `json:"handle"`
	Followers int    `json:"followers"`
	Posts     int    `json:"posts"`
	Lang      string `json:"lang,omitempty"`
}

// Rank orders accounts by followers, most followed first. Ties keep handle order so the
// ranking is reproducible. The language falls back to the latest post's language.
func Rank(accounts []models.Account) []Ranked {
	ranked := make([]Ranked, len(accounts))
	for i, a := range accounts {
		ranked[i] = Ranked{
			Handle:    a.Handle,
			Followers: a.Followers,
			Posts:     a.Posts,
			Lang:      a.Language(),
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Followers != ranked[j].Followers {
			return ranked[i].Followers > ranked[j].Followers
		}
		return ranked[i].Handle < ranked[j].Handle
	})
	return ranked
}

// Position returns the 1-based popularity rank of handle, or -1.
func Position(ranked []Ranked, handle string) int {
	for i, r := range ranked {
		if r.Handle == handle {
			return i + 1
		}
	}
	return -1
}
