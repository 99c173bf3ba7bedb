package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"postpulse/pkg/models"
)

const (
	accountsDir  = "accounts"
	rawPostsDir  = "raw"
	postsDir     = "posts"
	cohortsDir   = "cohorts"
	artifactsDir = "artifacts"
)

// FileStore keeps one JSON file per record under a root directory.
// Writes go through a temporary file and a rename so readers never see half a record.
type FileStore struct {
	root string

	mu        sync.RWMutex
	accounts  map[string]bool
	collected map[string]bool
}

// NewFileStore creates the directory layout under root and indexes what is already there.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{accountsDir, rawPostsDir, postsDir, cohortsDir, artifactsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	s := &FileStore{
		root:      root,
		accounts:  make(map[string]bool),
		collected: make(map[string]bool),
	}
	if err := s.scanExisting(accountsDir, s.accounts); err != nil {
		return nil, fmt.Errorf("failed to scan existing accounts: %w", err)
	}
	if err := s.scanExisting(postsDir, s.collected); err != nil {
		return nil, fmt.Errorf("failed to scan existing posts: %w", err)
	}
	return s, nil
}

// Root returns the storage directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) scanExisting(dir string, index map[string]bool) error {
	names, err := s.list(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		index[name] = true
	}
	return nil
}

// list returns the record names of dir in lexical order.
func (s *FileStore) list(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) path(dir, name string) string {
	return filepath.Join(s.root, dir, name+".json")
}

func (s *FileStore) write(dir, name string, data []byte) error {
	filename := s.path(dir, name)
	tempFile := filename + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write %s: %w", tempFile, err)
	}
	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func (s *FileStore) read(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", dir, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", dir, name, err)
	}
	return data, nil
}

func (s *FileStore) SaveAccount(ctx context.Context, account models.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if err := validateKey("account", account.Handle); err != nil {
		return err
	}
	data, err := encode(account)
	if err != nil {
		return err
	}
	if err := s.write(accountsDir, account.Handle, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts[account.Handle] = true
	s.mu.Unlock()
	return nil
}

func (s *FileStore) LoadAccount(ctx context.Context, handle string) (models.Account, error) {
	if err := validateKey("account", handle); err != nil {
		return models.Account{}, err
	}
	data, err := s.read(accountsDir, handle)
	if err != nil {
		return models.Account{}, err
	}
	return decodeAccount(data)
}

func (s *FileStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	names, err := s.list(accountsDir)
	if err != nil {
		return nil, err
	}
	accounts := make([]models.Account, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.LoadAccount(ctx, name)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *FileStore) SaveRawPosts(ctx context.Context, handle string, posts []models.RawPost) error {
	if err := validateKey("account", handle); err != nil {
		return err
	}
	data, err := encode(orEmpty(posts))
	if err != nil {
		return err
	}
	return s.write(rawPostsDir, handle, data)
}

func (s *FileStore) LoadRawPosts(ctx context.Context, handle string) ([]models.RawPost, error) {
	if err := validateKey("account", handle); err != nil {
		return nil, err
	}
	data, err := s.read(rawPostsDir, handle)
	if err != nil {
		return nil, err
	}
	return decodeRawPosts(data)
}

func (s *FileStore) SavePosts(ctx context.Context, handle string, posts []models.Post) error {
	if err := validateKey("account", handle); err != nil {
		return err
	}
	data, err := encode(orEmpty(posts))
	if err != nil {
		return err
	}
	if err := s.write(postsDir, handle, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.collected[handle] = true
	s.mu.Unlock()
	return nil
}

func (s *FileStore) LoadPosts(ctx context.Context, handle string) ([]models.Post, error) {
	if err := validateKey("account", handle); err != nil {
		return nil, err
	}
	data, err := s.read(postsDir, handle)
	if err != nil {
		return nil, err
	}
	return decodePosts(data)
}

// HasPosts checks the in-memory index first and falls back to the file system for records
// written by another process.
func (s *FileStore) HasPosts(ctx context.Context, handle string) (bool, error) {
	if err := validateKey("account", handle); err != nil {
		return false, err
	}
	s.mu.RLock()
	known := s.collected[handle]
	s.mu.RUnlock()
	if known {
		return true, nil
	}

	if _, err := os.Stat(s.path(postsDir, handle)); err == nil {
		s.mu.Lock()
		s.collected[handle] = true
		s.mu.Unlock()
		return true, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return false, nil
}

// CollectedCount returns the number of accounts with stored posts.
func (s *FileStore) CollectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collected)
}

func (s *FileStore) SaveCohort(ctx context.Context, cohort models.Cohort) error {
	if err := cohort.Validate(); err != nil {
		return err
	}
	if err := validateKey("cohort", cohort.Name); err != nil {
		return err
	}
	data, err := encode(cohort)
	if err != nil {
		return err
	}
	return s.write(cohortsDir, cohort.Name, data)
}

func (s *FileStore) LoadCohort(ctx context.Context, name string) (models.Cohort, error) {
	if err := validateKey("cohort", name); err != nil {
		return models.Cohort{}, err
	}
	data, err := s.read(cohortsDir, name)
	if err != nil {
		return models.Cohort{}, err
	}
	return decodeCohort(data)
}

func (s *FileStore) ListCohorts(ctx context.Context) ([]string, error) {
	return s.list(cohortsDir)
}

func (s *FileStore) SaveArtifact(ctx context.Context, name string, data []byte) error {
	if err := validateKey("artifact", name); err != nil {
		return err
	}
	return s.write(artifactsDir, name, data)
}

func (s *FileStore) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	if err := validateKey("artifact", name); err != nil {
		return nil, err
	}
	return s.read(artifactsDir, name)
}

func (s *FileStore) Close() error { return nil }
