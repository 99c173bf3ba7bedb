package twitter

import (
	"net/url"
	"strconv"
)

const (
	// BaseURL is the REST API root.
	BaseURL = "https://api.twitter.com"

	FriendsListEndpoint  = "/1.1/friends/list.json"
	UserTimelineEndpoint = "/1.1/statuses/user_timeline.json"
	UsersShowEndpoint    = "/1.1/users/show.json"

	// MaxPageSize is the largest count both list endpoints accept.
	MaxPageSize = 200
)

func clampCount(count int) int {
	if count <= 0 || count > MaxPageSize {
		return MaxPageSize
	}
	return count
}

// FriendsListURL builds the URL listing the accounts handle follows.
func FriendsListURL(base, handle string, count int) string {
	params := url.Values{}
	params.Set("screen_name", handle)
	params.Set("count", strconv.Itoa(clampCount(count)))
	params.Set("skip_status", "true")
	return base + FriendsListEndpoint + "?" + params.Encode()
}

// UserTimelineURL builds the URL of one timeline page. maxID 0 asks for the newest page.
func UserTimelineURL(base, handle string, count int, maxID int64) string {
	params := url.Values{}
	params.Set("screen_name", handle)
	params.Set("count", strconv.Itoa(clampCount(count)))
	if maxID > 0 {
		params.Set("max_id", strconv.FormatInt(maxID, 10))
	}
	params.Set("tweet_mode", "extended")
	params.Set("trim_user", "true")
	return base + UserTimelineEndpoint + "?" + params.Encode()
}

func UsersShowURL(base, handle string) string {
	params := url.Values{}
	params.Set("screen_name", handle)
	return base + UsersShowEndpoint + "?" + params.Encode()
}
