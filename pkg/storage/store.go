package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	errs "postpulse/pkg/errors"
	"postpulse/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store persists the records produced by collection and read by analysis.
//
// Accounts are written once at crawl time. Post collections are written per account, raw and
// processed separately, and HasPosts reports whether an account's timeline has been collected
// (an empty timeline counts). Artifacts are opaque blobs such as cached reports.
type Store interface {
	SaveAccount(ctx context.Context, account models.Account) error
	LoadAccount(ctx context.Context, handle string) (models.Account, error)
	// ListAccounts returns every stored account ordered by handle.
	ListAccounts(ctx context.Context) ([]models.Account, error)

	SaveRawPosts(ctx context.Context, handle string, posts []models.RawPost) error
	LoadRawPosts(ctx context.Context, handle string) ([]models.RawPost, error)
	SavePosts(ctx context.Context, handle string, posts []models.Post) error
	LoadPosts(ctx context.Context, handle string) ([]models.Post, error)
	HasPosts(ctx context.Context, handle string) (bool, error)

	SaveCohort(ctx context.Context, cohort models.Cohort) error
	LoadCohort(ctx context.Context, name string) (models.Cohort, error)
	// ListCohorts returns cohort names in lexical order.
	ListCohorts(ctx context.Context) ([]string, error)

	SaveArtifact(ctx context.Context, name string, data []byte) error
	LoadArtifact(ctx context.Context, name string) ([]byte, error)

	Close() error
}

// validateKey rejects names that cannot be used as a file name or key segment.
func validateKey(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return errs.InvalidConfiguration("invalid %s name %q", kind, name)
	}
	return nil
}

// decodeStrict unmarshals data into v, rejecting unknown fields and trailing content.
func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Serialization(err, "decode record")
	}
	if _, err := dec.Token(); err != io.EOF {
		return errs.Serialization(err, "trailing data after record")
	}
	return nil
}

func decodeAccount(data []byte) (models.Account, error) {
	var a models.Account
	if err := decodeStrict(data, &a); err != nil {
		return models.Account{}, err
	}
	if err := a.Validate(); err != nil {
		return models.Account{}, errs.Serialization(err, "invalid account record")
	}
	return a, nil
}

func decodeRawPosts(data []byte) ([]models.RawPost, error) {
	var posts []models.RawPost
	if err := decodeStrict(data, &posts); err != nil {
		return nil, err
	}
	for _, p := range posts {
		if err := p.Validate(); err != nil {
			return nil, errs.Serialization(err, "invalid raw post record")
		}
	}
	return orEmpty(posts), nil
}

func decodePosts(data []byte) ([]models.Post, error) {
	var posts []models.Post
	if err := decodeStrict(data, &posts); err != nil {
		return nil, err
	}
	for _, p := range posts {
		if err := p.Validate(); err != nil {
			return nil, errs.Serialization(err, "invalid post record")
		}
	}
	return orEmpty(posts), nil
}

func decodeCohort(data []byte) (models.Cohort, error) {
	var c models.Cohort
	if err := decodeStrict(data, &c); err != nil {
		return models.Cohort{}, err
	}
	if err := c.Validate(); err != nil {
		return models.Cohort{}, errs.Serialization(err, "invalid cohort record")
	}
	return c, nil
}

func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Serialization(err, fmt.Sprintf("encode %T", v))
	}
	return data, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
