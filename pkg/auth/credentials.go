package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "default"

// Token is an API bearer token saved under a profile name
type Token struct {
	Profile      string    `json:"profile"`
	BearerToken  string    `json:"bearer_token"`
	LastModified time.Time `json:"last_modified"`
}

// TokenStore is the interface for storing and retrieving API tokens
type TokenStore interface {
	// Store saves the token under its profile
	Store(token *Token) error

	// Retrieve gets the token of a profile
	Retrieve(profile string) (*Token, error)

	// List returns all stored tokens
	List() ([]*Token, error)

	// Delete removes the token of a profile
	Delete(profile string) error

	// Exists checks if a token exists for a profile
	Exists(profile string) bool
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []TokenStore
}

// NewManager creates a token manager backed by the system keychain when it is available,
// an encrypted file, and finally the environment.
func NewManager() (*Manager, error) {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores, tried in order.
func NewManagerWithStores(stores ...TokenStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the token using the first store that accepts it
func (m *Manager) Store(token *Token) error {
	if token == nil || token.BearerToken == "" {
		return errors.New("bearer token is required")
	}
	if token.Profile == "" {
		token.Profile = DefaultProfile
	}
	token.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(token)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store token: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the token from the first store that has it
func (m *Manager) Retrieve(profile string) (*Token, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if token, err := store.Retrieve(profile); err == nil && token != nil {
			return token, nil
		}
	}
	return nil, fmt.Errorf("%w: profile %s", ErrTokenNotFound, profile)
}

// Resolve returns the bearer token to use: the environment wins, then the named profile,
// then the most recently stored token.
func (m *Manager) Resolve(profile string) (*Token, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if token, err := env.Retrieve(profile); err == nil {
				return token, nil
			}
		}
	}

	if token, err := m.Retrieve(profile); err == nil {
		return token, nil
	}

	tokens, err := m.List()
	if err == nil && len(tokens) > 0 {
		return tokens[0], nil
	}
	return nil, ErrTokenNotFound
}

// List returns the tokens of every store, newest first. A profile held by several stores is
// reported once, with its most recent value.
func (m *Manager) List() ([]*Token, error) {
	byProfile := make(map[string]*Token)

	for _, store := range m.stores {
		tokens, err := store.List()
		if err != nil {
			continue
		}
		for _, token := range tokens {
			if existing, ok := byProfile[token.Profile]; !ok || token.LastModified.After(existing.LastModified) {
				byProfile[token.Profile] = token
			}
		}
	}

	result := make([]*Token, 0, len(byProfile))
	for _, token := range byProfile {
		result = append(result, token)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Profile < result[j].Profile
	})
	return result, nil
}

// Delete removes the token from all stores
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(profile); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrTokenNotFound) {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	return fmt.Errorf("%w: profile %s", ErrTokenNotFound, profile)
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "postpulse")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "postpulse")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "postpulse")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "postpulse")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// Sanitize returns a copy of the token that is safe to print
func Sanitize(token *Token) *Token {
	if token == nil {
		return nil
	}
	return &Token{
		Profile:      token.Profile,
		BearerToken:  MaskString(token.BearerToken),
		LastModified: token.LastModified,
	}
}

// MaskString masks all but the first 4 and last 4 characters of a string
func MaskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrInvalidToken     = errors.New("invalid token")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
