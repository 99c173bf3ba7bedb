package twitter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/models"
)

// TimeLayout is the created_at format of the REST API.
const TimeLayout = time.RubyDate

// User is the subset of the API user object that is mapped onto models.Account.
type User struct {
	IDStr          string `json:"id_str"`
	ScreenName     string `json:"screen_name"`
	Name           string `json:"name"`
	FollowersCount int    `json:"followers_count"`
	FriendsCount   int    `json:"friends_count"`
	StatusesCount  int    `json:"statuses_count"`
	Lang           string `json:"lang"`
	Protected      bool   `json:"protected"`
	CreatedAt      string `json:"created_at"`
	Status         *struct {
		Lang string `json:"lang"`
	} `json:"status"`
}

// FriendsResponse is the body of friends/list.
type FriendsResponse struct {
	Users      []json.RawMessage `json:"users"`
	NextCursor int64             `json:"next_cursor"`
}

// Tweet is the subset of the API status object that is mapped onto models.RawPost.
type Tweet struct {
	IDStr           string          `json:"id_str"`
	FullText        string          `json:"full_text"`
	Text            string          `json:"text"`
	FavoriteCount   int             `json:"favorite_count"`
	RetweetCount    int             `json:"retweet_count"`
	RetweetedStatus json.RawMessage `json:"retweeted_status"`
	Lang            string          `json:"lang"`
	CreatedAt       string          `json:"created_at"`
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, value)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ErrorTypeParsing, err, fmt.Sprintf("invalid %s %q", field, value))
	}
	return t.UTC(), nil
}

func missing(field string) error {
	return errs.New(errs.ErrorTypeParsing, fmt.Sprintf("missing required field %s", field))
}

// ToAccount converts a raw user object, keeping the raw bytes on the account.
func ToAccount(raw json.RawMessage) (models.Account, error) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.Account{}, errs.Wrap(errs.ErrorTypeParsing, err, "decode user")
	}
	switch {
	case u.ScreenName == "":
		return models.Account{}, missing("screen_name")
	case u.IDStr == "":
		return models.Account{}, missing("id_str")
	case u.CreatedAt == "":
		return models.Account{}, missing("created_at")
	}
	created, err := parseTime("created_at", u.CreatedAt)
	if err != nil {
		return models.Account{}, err
	}

	a := models.Account{
		Handle:    u.ScreenName,
		ID:        u.IDStr,
		Name:      u.Name,
		Followers: u.FollowersCount,
		Following: u.FriendsCount,
		Posts:     u.StatusesCount,
		Lang:      u.Lang,
		Protected: u.Protected,
		CreatedAt: created,
		Raw:       append(json.RawMessage(nil), raw...),
	}
	if u.Status != nil {
		a.StatusLang = u.Status.Lang
	}
	return a, nil
}

// ToRawPost converts a status object.
func ToRawPost(t Tweet) (models.RawPost, error) {
	if t.IDStr == "" {
		return models.RawPost{}, missing("id_str")
	}
	if t.CreatedAt == "" {
		return models.RawPost{}, missing("created_at")
	}
	id, err := strconv.ParseInt(t.IDStr, 10, 64)
	if err != nil {
		return models.RawPost{}, errs.Wrap(errs.ErrorTypeParsing, err, fmt.Sprintf("invalid id_str %q", t.IDStr))
	}
	created, err := parseTime("created_at", t.CreatedAt)
	if err != nil {
		return models.RawPost{}, err
	}

	text := t.FullText
	if text == "" {
		text = t.Text
	}
	return models.RawPost{
		ID:        id,
		Text:      text,
		Favorites: t.FavoriteCount,
		Reposts:   t.RetweetCount,
		IsRepost:  len(t.RetweetedStatus) > 0 && string(t.RetweetedStatus) != "null",
		Lang:      t.Lang,
		CreatedAt: created,
	}, nil
}
