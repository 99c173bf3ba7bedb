// Package twitter is a small client for the v1.1 REST endpoints the collector needs.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postpulse/pkg/config"
	errs "postpulse/pkg/errors"
	"postpulse/pkg/logger"
	"postpulse/pkg/metrics"
	"postpulse/pkg/models"
	"postpulse/pkg/retry"
)

const maxBodySize = 16 << 20

// Client calls the REST API with a bearer token.
//
// Transport failures and 5xx answers are retried a bounded number of times. Rate limits and
// unavailable accounts are returned to the caller as classified errors.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	retrier    *retry.Retrier
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// NewClient creates a client from the source configuration.
func NewClient(cfg config.SourceConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	log = log.WithField("component", "twitter")

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "postpulse/" + logger.Version
	}

	headers := map[string]string{
		"User-Agent": userAgent,
		"Accept":     "application/json",
	}
	if cfg.BearerToken != "" {
		headers["Authorization"] = "Bearer " + cfg.BearerToken
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers:    headers,
		baseURL:    baseURL,
		retrier:    retry.NewHTTPRetrier(cfg.MaxRetries+1, log),
		logger:     log,
	}
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetRetrier replaces the retry policy for transport failures.
func (c *Client) SetRetrier(r *retry.Retrier) {
	c.retrier = r
}

func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// doRequest performs one GET with the configured headers.
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "network error")
	}

	logger.LogRequest(c.logger, req.Method, url, resp.StatusCode, time.Since(start))
	return resp, nil
}

// getJSON fetches url and decodes a 200 response into target. account is attached to
// classified errors.
func (c *Client) getJSON(ctx context.Context, endpoint, url, account string, target interface{}) error {
	return c.retrier.WithContext(ctx).Do(func() error {
		resp, err := c.doRequest(ctx, url)
		if err != nil {
			c.metrics.IncAPIRequest(endpoint, 0)
			return err
		}
		defer resp.Body.Close()
		c.metrics.IncAPIRequest(endpoint, resp.StatusCode)

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
		}

		if resp.StatusCode != http.StatusOK {
			return classify(resp.StatusCode, resp.Header, body, account)
		}

		if err := json.Unmarshal(body, target); err != nil {
			preview := string(body)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          url,
				"error":        err.Error(),
				"body_preview": preview,
			})
			return errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse JSON")
		}
		return nil
	})
}

// ListConnections returns up to pageSize accounts that handle follows.
func (c *Client) ListConnections(ctx context.Context, handle string, pageSize int) ([]models.Account, error) {
	var resp FriendsResponse
	if err := c.getJSON(ctx, "friends_list", FriendsListURL(c.baseURL, handle, pageSize), handle, &resp); err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(resp.Users))
	for _, raw := range resp.Users {
		a, err := ToAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("connection of %s: %w", handle, err)
		}
		accounts = append(accounts, a)
	}

	c.logger.DebugWithFields("Listed connections", map[string]interface{}{
		"account":     handle,
		"connections": len(accounts),
	})
	return accounts, nil
}

// ListPosts returns one timeline page, newest first. maxID 0 asks for the newest page.
func (c *Client) ListPosts(ctx context.Context, handle string, pageSize int, maxID int64) ([]models.RawPost, error) {
	var tweets []Tweet
	if err := c.getJSON(ctx, "user_timeline", UserTimelineURL(c.baseURL, handle, pageSize, maxID), handle, &tweets); err != nil {
		return nil, err
	}

	posts := make([]models.RawPost, 0, len(tweets))
	for _, t := range tweets {
		p, err := ToRawPost(t)
		if err != nil {
			return nil, fmt.Errorf("post of %s: %w", handle, err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// LookupAccount fetches a single profile.
func (c *Client) LookupAccount(ctx context.Context, handle string) (models.Account, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "users_show", UsersShowURL(c.baseURL, handle), handle, &raw); err != nil {
		return models.Account{}, err
	}
	return ToAccount(raw)
}

// Get fetches an arbitrary URL with the client's headers and returns the body of a 200
// response. It is used for pages outside the API, such as account directories.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.retrier.WithContext(ctx).Do(func() error {
		resp, err := c.doRequest(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return classify(resp.StatusCode, resp.Header, nil, "")
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
		}
		return nil
	})
	return body, err
}
