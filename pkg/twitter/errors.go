package twitter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	errs "postpulse/pkg/errors"
)

// API error codes that mean the account itself cannot be read.
var unavailableCodes = map[int]string{
	34:  "page does not exist",
	50:  "user not found",
	63:  "user has been suspended",
	64:  "account is suspended",
	179: "not authorized to see this status",
	219: "not authorized",
}

const codeRateLimited = 88

// Credential failures are reported with 401 too but concern every account.
var credentialCodes = map[int]bool{32: true, 89: true}

type apiErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	// Protected timelines answer with a plain "error" string.
	Error string `json:"error"`
}

// parseRateLimitReset reads the x-rate-limit-reset unix timestamp, falling back to 15 minutes
// from now.
func parseRateLimitReset(v string) time.Time {
	if ts, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return time.Unix(ts, 0)
	}
	return time.Now().Add(15 * time.Minute)
}

// classify maps a non-200 response onto the error taxonomy. body may be empty.
func classify(status int, header http.Header, body []byte, account string) error {
	var payload apiErrors
	_ = json.Unmarshal(body, &payload)

	for _, e := range payload.Errors {
		if e.Code == codeRateLimited {
			return errs.RateLimited(account, parseRateLimitReset(header.Get("x-rate-limit-reset")))
		}
	}
	if status == http.StatusTooManyRequests {
		return errs.RateLimited(account, parseRateLimitReset(header.Get("x-rate-limit-reset")))
	}

	for _, e := range payload.Errors {
		if credentialCodes[e.Code] {
			return errs.InvalidConfiguration("API token rejected: %s (api code %d)", e.Message, e.Code)
		}
		if reason, ok := unavailableCodes[e.Code]; ok {
			return errs.Unavailable(account, status, fmt.Sprintf("%s (api code %d)", reason, e.Code))
		}
	}

	message := payload.Error
	if message == "" && len(payload.Errors) > 0 {
		message = payload.Errors[0].Message
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound:
		return errs.Unavailable(account, status, message)
	case status >= 500:
		return &errs.Error{Type: errs.ErrorTypeServerError, Message: message, Code: status, Account: account}
	default:
		return &errs.Error{Type: errs.ErrorTypeUnknown, Message: fmt.Sprintf("unexpected status code: %d: %s", status, message), Code: status, Account: account}
	}
}
