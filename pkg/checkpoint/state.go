package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	errs "postpulse/pkg/errors"
)

// StateVersion is the checkpoint format written by this build.
const StateVersion = 1

// CrawlState is the resumable state of one follow-chain walk.
//
// Downloaded holds every account whose profile has been persisted. Visited holds every account
// whose connection list has been processed. Frontier is the current generation still to be
// expanded and NextFrontier collects the handles selected for the following one.
type CrawlState struct {
	Seed string `json:"seed"`
	// Target <= 0 means the walk is unbounded.
	Target        int        `json:"target"`
	RatePerMinute float64    `json:"rate_per_minute"`
	RunID         string     `json:"run_id"`
	Downloaded    AccountSet `json:"downloaded"`
	Visited       AccountSet `json:"visited"`
	Frontier      AccountSet `json:"frontier"`
	NextFrontier  AccountSet `json:"next_frontier"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Version       int        `json:"version"`
}

// New creates the initial state of a walk starting at seed.
func New(seed string, target int) (*CrawlState, error) {
	if seed == "" {
		return nil, errs.InvalidConfiguration("seed account is required")
	}
	now := time.Now().UTC()
	return &CrawlState{
		Seed:         seed,
		Target:       target,
		RunID:        uuid.NewString(),
		Downloaded:   NewAccountSet(),
		Visited:      NewAccountSet(),
		Frontier:     NewAccountSet(seed),
		NextFrontier: NewAccountSet(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      StateVersion,
	}, nil
}

// Done reports whether the download target has been reached.
func (s *CrawlState) Done() bool {
	return s.Target > 0 && s.Downloaded.Len() >= s.Target
}

// Exhausted reports whether no handle is left to expand.
func (s *CrawlState) Exhausted() bool {
	return s.Frontier.Len() == 0 && s.NextFrontier.Len() == 0
}

// Progress is a point-in-time summary of a walk.
type Progress struct {
	RunID        string    `json:"run_id"`
	Seed         string    `json:"seed"`
	Target       int       `json:"target"`
	Downloaded   int       `json:"downloaded"`
	Visited      int       `json:"visited"`
	Frontier     int       `json:"frontier"`
	NextFrontier int       `json:"next_frontier"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *CrawlState) Progress() Progress {
	return Progress{
		RunID:        s.RunID,
		Seed:         s.Seed,
		Target:       s.Target,
		Downloaded:   s.Downloaded.Len(),
		Visited:      s.Visited.Len(),
		Frontier:     s.Frontier.Len(),
		NextFrontier: s.NextFrontier.Len(),
		UpdatedAt:    s.UpdatedAt,
	}
}

// Fields renders the progress as log fields.
func (p Progress) Fields() map[string]interface{} {
	return map[string]interface{}{
		"run_id":        p.RunID,
		"seed":          p.Seed,
		"target":        p.Target,
		"downloaded":    p.Downloaded,
		"visited":       p.Visited,
		"frontier":      p.Frontier,
		"next_frontier": p.NextFrontier,
	}
}

// Serialize encodes the state as indented JSON.
func (s *CrawlState) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errs.Serialization(err, "encode crawl state")
	}
	return data, nil
}

// wireState mirrors CrawlState with pointers so that missing fields can be told apart from
// zero values.
type wireState struct {
	Seed          *string     `json:"seed"`
	Target        *int        `json:"target"`
	RatePerMinute float64     `json:"rate_per_minute"`
	RunID         string      `json:"run_id"`
	Downloaded    *AccountSet `json:"downloaded"`
	Visited       *AccountSet `json:"visited"`
	Frontier      *AccountSet `json:"frontier"`
	NextFrontier  *AccountSet `json:"next_frontier"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Version       *int        `json:"version"`
}

// Deserialize decodes a state written by Serialize. Unknown fields, missing required fields
// and unsupported versions are serialization failures.
func Deserialize(data []byte) (*CrawlState, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireState
	if err := dec.Decode(&w); err != nil {
		return nil, errs.Serialization(err, "decode crawl state")
	}
	if dec.More() {
		return nil, errs.Serialization(nil, "trailing data after crawl state")
	}

	missing := func(field string) error {
		return errs.Serialization(nil, fmt.Sprintf("crawl state is missing %q", field))
	}
	switch {
	case w.Seed == nil || *w.Seed == "":
		return nil, missing("seed")
	case w.Target == nil:
		return nil, missing("target")
	case w.Downloaded == nil:
		return nil, missing("downloaded")
	case w.Visited == nil:
		return nil, missing("visited")
	case w.Frontier == nil:
		return nil, missing("frontier")
	case w.NextFrontier == nil:
		return nil, missing("next_frontier")
	case w.Version == nil:
		return nil, missing("version")
	}
	if *w.Version != StateVersion {
		return nil, errs.Serialization(nil, fmt.Sprintf("unsupported crawl state version %d", *w.Version))
	}

	return &CrawlState{
		Seed:          *w.Seed,
		Target:        *w.Target,
		RatePerMinute: w.RatePerMinute,
		RunID:         w.RunID,
		Downloaded:    orEmpty(*w.Downloaded),
		Visited:       orEmpty(*w.Visited),
		Frontier:      orEmpty(*w.Frontier),
		NextFrontier:  orEmpty(*w.NextFrontier),
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
		Version:       *w.Version,
	}, nil
}

func orEmpty(s AccountSet) AccountSet {
	if s == nil {
		return NewAccountSet()
	}
	return s
}
