package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"postpulse/pkg/logger"
	"postpulse/pkg/models"
)

// BadgerStore keeps records in an embedded Badger database, one key per record.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a database in dir. An empty dir opens an in-memory database.
func OpenBadger(dir string, log logger.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.OrNop(log).WithField("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func key(kind, name string) []byte {
	return []byte(kind + "/" + name)
}

func (s *BadgerStore) put(kind, name string, v interface{}) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.putRaw(kind, name, data)
}

func (s *BadgerStore) putRaw(kind, name string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(kind, name), data)
	})
}

func (s *BadgerStore) get(kind, name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(kind, name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
	}
	return data, err
}

// scan calls fn for every record of kind in key order.
func (s *BadgerStore) scan(ctx context.Context, kind string, fn func(name string, value []byte) error) error {
	prefix := []byte(kind + "/")
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			name := strings.TrimPrefix(string(item.Key()), string(prefix))
			if err := fn(name, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) SaveAccount(ctx context.Context, account models.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if err := validateKey("account", account.Handle); err != nil {
		return err
	}
	return s.put(accountsDir, account.Handle, account)
}

func (s *BadgerStore) LoadAccount(ctx context.Context, handle string) (models.Account, error) {
	data, err := s.get(accountsDir, handle)
	if err != nil {
		return models.Account{}, err
	}
	return decodeAccount(data)
}

func (s *BadgerStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	accounts := []models.Account{}
	err := s.scan(ctx, accountsDir, func(name string, value []byte) error {
		a, err := decodeAccount(value)
		if err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
		accounts = append(accounts, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *BadgerStore) SaveRawPosts(ctx context.Context, handle string, posts []models.RawPost) error {
	if err := validateKey("account", handle); err != nil {
		return err
	}
	return s.put(rawPostsDir, handle, orEmpty(posts))
}

func (s *BadgerStore) LoadRawPosts(ctx context.Context, handle string) ([]models.RawPost, error) {
	data, err := s.get(rawPostsDir, handle)
	if err != nil {
		return nil, err
	}
	return decodeRawPosts(data)
}

func (s *BadgerStore) SavePosts(ctx context.Context, handle string, posts []models.Post) error {
	if err := validateKey("account", handle); err != nil {
		return err
	}
	return s.put(postsDir, handle, orEmpty(posts))
}

func (s *BadgerStore) LoadPosts(ctx context.Context, handle string) ([]models.Post, error) {
	data, err := s.get(postsDir, handle)
	if err != nil {
		return nil, err
	}
	return decodePosts(data)
}

func (s *BadgerStore) HasPosts(ctx context.Context, handle string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(postsDir, handle))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *BadgerStore) SaveCohort(ctx context.Context, cohort models.Cohort) error {
	if err := cohort.Validate(); err != nil {
		return err
	}
	if err := validateKey("cohort", cohort.Name); err != nil {
		return err
	}
	return s.put(cohortsDir, cohort.Name, cohort)
}

func (s *BadgerStore) LoadCohort(ctx context.Context, name string) (models.Cohort, error) {
	data, err := s.get(cohortsDir, name)
	if err != nil {
		return models.Cohort{}, err
	}
	return decodeCohort(data)
}

func (s *BadgerStore) ListCohorts(ctx context.Context) ([]string, error) {
	var names []string
	err := s.scan(ctx, cohortsDir, func(name string, _ []byte) error {
		names = append(names, name)
		return nil
	})
	return names, err
}

func (s *BadgerStore) SaveArtifact(ctx context.Context, name string, data []byte) error {
	if err := validateKey("artifact", name); err != nil {
		return err
	}
	return s.putRaw(artifactsDir, name, data)
}

func (s *BadgerStore) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	return s.get(artifactsDir, name)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes Badger's internal logging into the application logger.
type badgerLogger struct {
	l logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
