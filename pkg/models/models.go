// Package models holds the records exchanged between the crawler, the collector, storage
// and the aggregator.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Account is a user of the social network as returned by the connection list.
type Account struct {
	Handle    string `json:"handle"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Followers int    `json:"followers"`
	Following int    `json:"following"`
	Posts     int    `json:"posts"`
	Lang      string `json:"lang,omitempty"`
	// StatusLang is the language of the account's latest post, used when Lang is empty.
	StatusLang string    `json:"status_lang,omitempty"`
	Protected  bool      `json:"protected"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	// Raw is the untouched API object, kept for later reprocessing.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Language returns the declared language, falling back to the latest post's language.
func (a Account) Language() string {
	if a.Lang != "" {
		return a.Lang
	}
	return a.StatusLang
}

func (a Account) Validate() error {
	if a.Handle == "" {
		return errors.New("account handle is required")
	}
	if a.Followers < 0 || a.Posts < 0 || a.Following < 0 {
		return fmt.Errorf("account %s has negative counters", a.Handle)
	}
	return nil
}

// RawPost is a post as delivered by the timeline endpoint.
type RawPost struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Favorites int       `json:"favorites"`
	Reposts   int       `json:"reposts"`
	IsRepost  bool      `json:"is_repost"`
	Lang      string    `json:"lang,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p RawPost) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("post id must be positive, got %d", p.ID)
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("post %d has no timestamp", p.ID)
	}
	return nil
}

// Post is the processed form of a RawPost. Text is not kept.
type Post struct {
	Relevant   bool      `json:"relevant"`
	Popularity int       `json:"popularity"`
	Repost     bool      `json:"repost"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p Post) Validate() error {
	if p.CreatedAt.IsZero() {
		return errors.New("post has no timestamp")
	}
	if p.Popularity < 0 {
		return fmt.Errorf("post popularity cannot be negative, got %d", p.Popularity)
	}
	return nil
}

// Cohort is a named, fixed set of accounts that is analysed as a group.
type Cohort struct {
	Name      string    `json:"name"`
	Accounts  []string  `json:"accounts"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Cohort) Validate() error {
	if c.Name == "" {
		return errors.New("cohort name is required")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, h := range c.Accounts {
		if h == "" {
			return fmt.Errorf("cohort %s contains an empty handle", c.Name)
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("cohort %s lists %s twice", c.Name, h)
		}
		seen[h] = struct{}{}
	}
	return nil
}
