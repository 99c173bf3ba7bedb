package sample

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"postpulse/pkg/models"
)

// DirectorySelector finds the account links in the news directory table.
const DirectorySelector = "table tr td:nth-child(2) > a"

const repostPrefix = "RT @"

// PageFetcher downloads a web page.
type PageFetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// ParseDirectory extracts the handles listed in a news directory page. Link texts are of the
// form "@handle".
func ParseDirectory(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse directory page: %w", err)
	}

	var handles []string
	doc.Find(DirectorySelector).Each(func(i int, s *goquery.Selection) {
		h := strings.TrimPrefix(strings.TrimSpace(s.Text()), "@")
		if h != "" {
			handles = append(handles, h)
		}
	})
	return handles, nil
}

// NewsDirectory downloads and parses the directory page at url.
func NewsDirectory(ctx context.Context, fetcher PageFetcher, url string) ([]string, error) {
	body, err := fetcher.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download news directory: %w", err)
	}
	return ParseDirectory(bytes.NewReader(body))
}

// RepostedHandles returns the authors of the posts a hub account reposted, read from the
// "RT @handle:" prefix.
func RepostedHandles(posts []models.RawPost) []string {
	var handles []string
	for _, p := range posts {
		if !strings.HasPrefix(p.Text, repostPrefix) {
			continue
		}
		h, _, _ := strings.Cut(p.Text[len(repostPrefix):], ":")
		if h = strings.TrimSpace(h); h != "" {
			handles = append(handles, h)
		}
	}
	return handles
}

// MergeNews combines the hub, the handles it reposted and the directory listing. Directory
// entries are added only when no handle already present matches them ignoring case; the
// result is sorted.
func MergeNews(hub string, reposted, directory []string) []string {
	seen := make(map[string]bool)
	lower := make(map[string]bool)
	merged := []string{}

	add := func(h string) {
		if seen[h] {
			return
		}
		seen[h] = true
		lower[strings.ToLower(h)] = true
		merged = append(merged, h)
	}

	if hub != "" {
		add(hub)
	}
	for _, h := range reposted {
		add(h)
	}
	for _, h := range directory {
		if !lower[strings.ToLower(h)] {
			add(h)
		}
	}

	sort.Strings(merged)
	return merged
}

// SelectNews builds the news cohort from the hub's stored timeline and the directory page.
// The hub timeline must have been collected first.
func (s *Sampler) SelectNews(ctx context.Context, fetcher PageFetcher, hub, directoryURL string, force bool) (models.Cohort, error) {
	if !force {
		if err := s.ensureAbsent(ctx, NewsCohort); err != nil {
			return models.Cohort{}, err
		}
	}

	var reposted []string
	if hub != "" {
		posts, err := s.store.LoadRawPosts(ctx, hub)
		if err != nil {
			return models.Cohort{}, fmt.Errorf("load timeline of news hub %s (collect it first): %w", hub, err)
		}
		reposted = RepostedHandles(posts)
	}

	var directory []string
	if directoryURL != "" {
		var err error
		if directory, err = NewsDirectory(ctx, fetcher, directoryURL); err != nil {
			return models.Cohort{}, err
		}
	}

	cohort := models.Cohort{
		Name:      NewsCohort,
		Accounts:  MergeNews(hub, reposted, directory),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.SaveCohort(ctx, cohort); err != nil {
		return models.Cohort{}, fmt.Errorf("save cohort %s: %w", cohort.Name, err)
	}

	s.logger.InfoWithFields("News cohort selected", map[string]interface{}{
		"reposted":  len(reposted),
		"directory": len(directory),
		"accounts":  len(cohort.Accounts),
	})
	return cohort, nil
}

// AvailabilityChecker reports whether an account's timeline was collected.
type AvailabilityChecker interface {
	HasPosts(ctx context.Context, handle string) (bool, error)
}

// FilterAvailable keeps the handles whose timelines are stored, dropping accounts that were
// unavailable when collected.
func FilterAvailable(ctx context.Context, store AvailabilityChecker, handles []string) ([]string, error) {
	kept := make([]string, 0, len(handles))
	for _, h := range handles {
		ok, err := store.HasPosts(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", h, err)
		}
		if ok {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// Prune rewrites a stored cohort without its unavailable accounts and returns the dropped
// handles.
func (s *Sampler) Prune(ctx context.Context, cohort models.Cohort) (models.Cohort, []string, error) {
	kept, err := FilterAvailable(ctx, s.store, cohort.Accounts)
	if err != nil {
		return models.Cohort{}, nil, err
	}

	keptSet := make(map[string]bool, len(kept))
	for _, h := range kept {
		keptSet[h] = true
	}
	var dropped []string
	for _, h := range cohort.Accounts {
		if !keptSet[h] {
			dropped = append(dropped, h)
		}
	}

	pruned := models.Cohort{Name: cohort.Name, Accounts: kept, CreatedAt: cohort.CreatedAt}
	if pruned.CreatedAt.IsZero() {
		pruned.CreatedAt = time.Now().UTC()
	}
	if err := s.store.SaveCohort(ctx, pruned); err != nil {
		return models.Cohort{}, nil, fmt.Errorf("save cohort %s: %w", pruned.Name, err)
	}

	s.logger.InfoWithFields("Cohort pruned", map[string]interface{}{
		"cohort":  pruned.Name,
		"kept":    len(kept),
		"dropped": len(dropped),
	})
	return pruned, dropped, nil
}
