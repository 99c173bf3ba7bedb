package sample

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"postpulse/pkg/config"
	"postpulse/pkg/logger"
	"postpulse/pkg/models"
)

// Cohort names.
const (
	PopularCohort = "popular"
	RandomCohort  = "random"
	NewsCohort    = "news"
)

// ErrCohortExists is returned instead of overwriting a selected cohort.
var ErrCohortExists = errors.New("cohort already selected")

// Criteria decides who may enter the cohorts.
type Criteria struct {
	// Languages are matched as substrings of the account language.
	Languages  []string
	CohortSize int
	// Random cohort members need more than MinFollowers followers and strictly between
	// MinPosts and MaxPosts posts.
	MinFollowers int
	MinPosts     int
	MaxPosts     int
}

// CriteriaFromConfig maps the sample section of the configuration.
func CriteriaFromConfig(c config.SampleConfig) Criteria {
	return Criteria{
		Languages:    c.Languages,
		CohortSize:   c.CohortSize,
		MinFollowers: c.MinFollowers,
		MinPosts:     c.MinPosts,
		MaxPosts:     c.MaxPosts,
	}
}

func (c Criteria) speaks(lang string) bool {
	if lang == "" {
		return false
	}
	for _, l := range c.Languages {
		if strings.Contains(lang, l) {
			return true
		}
	}
	return false
}

func (c Criteria) eligible(r Ranked) bool {
	return r.Followers > c.MinFollowers && r.Posts > c.MinPosts && r.Posts < c.MaxPosts
}

// Selection holds the two account cohorts.
type Selection struct {
	Popular models.Cohort
	Random  models.Cohort
	// Eligible is how many accounts the random cohort was drawn from.
	Eligible int
}

// Select picks the cohorts from a ranking. The popular cohort is the top CohortSize accounts
// in a supported language. The random cohort is drawn from the rest, among the eligible ones;
// when fewer are eligible than asked for, all of them are taken.
func Select(ranked []Ranked, c Criteria, rng *rand.Rand, now time.Time) Selection {
	var speakers []Ranked
	for _, r := range ranked {
		if c.speaks(r.Lang) {
			speakers = append(speakers, r)
		}
	}

	n := c.CohortSize
	if n > len(speakers) {
		n = len(speakers)
	}
	popular := speakers[:n]
	rest := speakers[n:]

	pool := []string{}
	for _, r := range rest {
		if c.eligible(r) {
			pool = append(pool, r.Handle)
		}
	}
	eligible := len(pool)
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > c.CohortSize {
		pool = pool[:c.CohortSize]
	}

	handles := make([]string, len(popular))
	for i, r := range popular {
		handles[i] = r.Handle
	}
	return Selection{
		Popular:  models.Cohort{Name: PopularCohort, Accounts: handles, CreatedAt: now},
		Random:   models.Cohort{Name: RandomCohort, Accounts: pool, CreatedAt: now},
		Eligible: eligible,
	}
}

// Store is the part of storage.Store cohort selection uses.
type Store interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	ListCohorts(ctx context.Context) ([]string, error)
	SaveCohort(ctx context.Context, cohort models.Cohort) error
	HasPosts(ctx context.Context, handle string) (bool, error)
	LoadRawPosts(ctx context.Context, handle string) ([]models.RawPost, error)
}

// Sampler selects cohorts from stored accounts and persists them.
type Sampler struct {
	store    Store
	criteria Criteria
	rng      *rand.Rand
	now      func() time.Time
	logger   logger.Logger
}

// NewSampler creates a sampler. A zero seed draws from the clock.
func NewSampler(store Store, c Criteria, seed int64, log logger.Logger) *Sampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		store:    store,
		criteria: c,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
		logger:   logger.OrNop(log).WithField("component", "sampler"),
	}
}

// SelectCohorts selects and saves the popular and random cohorts. Without force, existing
// cohorts are left alone and ErrCohortExists is returned.
func (s *Sampler) SelectCohorts(ctx context.Context, force bool) (Selection, error) {
	if !force {
		if err := s.ensureAbsent(ctx, PopularCohort, RandomCohort); err != nil {
			return Selection{}, err
		}
	}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("list accounts: %w", err)
	}
	sel := Select(Rank(accounts), s.criteria, s.rng, s.now().UTC())

	if len(sel.Random.Accounts) < s.criteria.CohortSize {
		s.logger.WarnWithFields("Fewer eligible accounts than the cohort size", map[string]interface{}{
			"eligible":    sel.Eligible,
			"cohort_size": s.criteria.CohortSize,
		})
	}

	for _, c := range []models.Cohort{sel.Popular, sel.Random} {
		if err := s.store.SaveCohort(ctx, c); err != nil {
			return Selection{}, fmt.Errorf("save cohort %s: %w", c.Name, err)
		}
	}

	s.logger.InfoWithFields("Cohorts selected", map[string]interface{}{
		"accounts": len(accounts),
		"popular":  len(sel.Popular.Accounts),
		"random":   len(sel.Random.Accounts),
		"eligible": sel.Eligible,
	})
	return sel, nil
}

func (s *Sampler) ensureAbsent(ctx context.Context, names ...string) error {
	existing, err := s.store.ListCohorts(ctx)
	if err != nil {
		return fmt.Errorf("list cohorts: %w", err)
	}
	for _, e := range existing {
		for _, n := range names {
			if e == n {
				return fmt.Errorf("%w: %s (delete it or pass --force to reselect)", ErrCohortExists, n)
			}
		}
	}
	return nil
}
