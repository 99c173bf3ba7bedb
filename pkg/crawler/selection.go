package crawler

import (
	"math/rand"
	"sort"

	"postpulse/pkg/checkpoint"
	"postpulse/pkg/models"
)

const (
	randomPicks = 3
	maxSelected = 6
)

// candidates keeps connections that are neither visited nor protected, least followed first.
// The sort is stable so ties keep the order the source returned them in.
func candidates(connections []models.Account, visited checkpoint.AccountSet) []models.Account {
	out := make([]models.Account, 0, len(connections))
	for _, a := range connections {
		if visited.Has(a.Handle) || a.Protected {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Followers < out[j].Followers
	})
	return out
}

// selectDiverse picks up to six handles: three uniformly at random, then the most followed
// remaining candidates until six are chosen.
func selectDiverse(sorted []models.Account, visited checkpoint.AccountSet, rng *rand.Rand) []string {
	selected := make([]string, 0, maxSelected)
	chosen := make(map[string]struct{}, maxSelected)
	pick := func(h string) {
		if _, dup := chosen[h]; dup {
			return
		}
		selected = append(selected, h)
		chosen[h] = struct{}{}
	}

	if len(sorted) <= randomPicks {
		for _, a := range sorted {
			pick(a.Handle)
		}
	} else {
		for _, i := range rng.Perm(len(sorted))[:randomPicks] {
			pick(sorted[i].Handle)
		}
	}

	for i := len(sorted) - 1; i >= 0 && len(selected) < maxSelected; i-- {
		h := sorted[i].Handle
		if visited.Has(h) {
			continue
		}
		pick(h)
	}

	return selected
}
