package auth

import (
	"os"
	"time"
)

// TokenEnv is the variable the environment store reads.
const TokenEnv = "POSTPULSE_BEARER_TOKEN"

// EnvironmentStore implements TokenStore on top of POSTPULSE_BEARER_TOKEN. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based token store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(token *Token) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment token under whatever profile was asked for
func (e *EnvironmentStore) Retrieve(profile string) (*Token, error) {
	value := os.Getenv(TokenEnv)
	if value == "" {
		return nil, ErrTokenNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Token{
		Profile:      profile,
		BearerToken:  value,
		LastModified: time.Now(),
	}, nil
}

// List returns a single token if the environment variable is set
func (e *EnvironmentStore) List() ([]*Token, error) {
	token, err := e.Retrieve("")
	if err != nil {
		return []*Token{}, nil
	}
	return []*Token{token}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(TokenEnv) != ""
}
