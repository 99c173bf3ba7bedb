package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postpulse/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	handle     TEXT PRIMARY KEY,
	followers  INTEGER NOT NULL,
	posts      INTEGER NOT NULL,
	lang       TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	saved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS timelines (
	handle       TEXT PRIMARY KEY,
	raw_count    INTEGER,
	post_count   INTEGER,
	collected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS raw_posts (
	handle TEXT NOT NULL,
	id     BIGINT NOT NULL,
	data   JSONB NOT NULL,
	PRIMARY KEY (handle, id)
);
CREATE TABLE IF NOT EXISTS posts (
	handle     TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	relevant   BOOLEAN NOT NULL,
	popularity INTEGER NOT NULL,
	repost     BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (handle, seq)
);
CREATE TABLE IF NOT EXISTS cohorts (
	name       TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
	name       TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore keeps records in PostgreSQL. Processed posts are stored as rows so they can be
// queried directly; the other records keep their JSON form.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and creates the schema if needed.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func notFound(err error, kind, name string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", kind, name, ErrNotFound)
	}
	return err
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account models.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	data, err := encode(account)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (handle, followers, posts, lang, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (handle) DO UPDATE SET
			followers = EXCLUDED.followers,
			posts = EXCLUDED.posts,
			lang = EXCLUDED.lang,
			data = EXCLUDED.data,
			saved_at = now()`,
		account.Handle, account.Followers, account.Posts, account.Language(), data)
	return err
}

func (s *PostgresStore) LoadAccount(ctx context.Context, handle string) (models.Account, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM accounts WHERE handle = $1`, handle).Scan(&data)
	if err != nil {
		return models.Account{}, notFound(err, accountsDir, handle)
	}
	return decodeAccount(data)
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		a, err := decodeAccount(data)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) SaveRawPosts(ctx context.Context, handle string, posts []models.RawPost) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM raw_posts WHERE handle = $1`, handle); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, p := range posts {
			data, err := encode(p)
			if err != nil {
				return err
			}
			batch.Queue(`INSERT INTO raw_posts (handle, id, data) VALUES ($1, $2, $3)
				ON CONFLICT (handle, id) DO NOTHING`, handle, p.ID, data)
		}
		batch.Queue(`INSERT INTO timelines (handle, raw_count) VALUES ($1, $2)
			ON CONFLICT (handle) DO UPDATE SET raw_count = EXCLUDED.raw_count, collected_at = now()`,
			handle, len(posts))
		return sendBatch(ctx, tx, batch)
	})
}

func (s *PostgresStore) LoadRawPosts(ctx context.Context, handle string) ([]models.RawPost, error) {
	var count *int
	err := s.pool.QueryRow(ctx, `SELECT raw_count FROM timelines WHERE handle = $1`, handle).Scan(&count)
	if err != nil {
		return nil, notFound(err, rawPostsDir, handle)
	}
	if count == nil {
		return nil, fmt.Errorf("%s/%s: %w", rawPostsDir, handle, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `SELECT data FROM raw_posts WHERE handle = $1 ORDER BY id DESC`, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]models.RawPost, 0, *count)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p models.RawPost
		if err := decodeStrict(data, &p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *PostgresStore) SavePosts(ctx context.Context, handle string, posts []models.Post) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM posts WHERE handle = $1`, handle); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, p := range posts {
			if err := p.Validate(); err != nil {
				return err
			}
			batch.Queue(`INSERT INTO posts (handle, seq, relevant, popularity, repost, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				handle, i, p.Relevant, p.Popularity, p.Repost, p.CreatedAt)
		}
		batch.Queue(`INSERT INTO timelines (handle, post_count) VALUES ($1, $2)
			ON CONFLICT (handle) DO UPDATE SET post_count = EXCLUDED.post_count, collected_at = now()`,
			handle, len(posts))
		return sendBatch(ctx, tx, batch)
	})
}

func (s *PostgresStore) LoadPosts(ctx context.Context, handle string) ([]models.Post, error) {
	ok, err := s.HasPosts(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", postsDir, handle, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT relevant, popularity, repost, created_at
		FROM posts WHERE handle = $1 ORDER BY seq`, handle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.Relevant, &p.Popularity, &p.Repost, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *PostgresStore) HasPosts(ctx context.Context, handle string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM timelines WHERE handle = $1 AND post_count IS NOT NULL)`,
		handle).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) SaveCohort(ctx context.Context, cohort models.Cohort) error {
	if err := cohort.Validate(); err != nil {
		return err
	}
	if cohort.CreatedAt.IsZero() {
		cohort.CreatedAt = time.Now().UTC()
	}
	data, err := encode(cohort)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cohorts (name, data, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		cohort.Name, data, cohort.CreatedAt)
	return err
}

func (s *PostgresStore) LoadCohort(ctx context.Context, name string) (models.Cohort, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM cohorts WHERE name = $1`, name).Scan(&data)
	if err != nil {
		return models.Cohort{}, notFound(err, cohortsDir, name)
	}
	return decodeCohort(data)
}

func (s *PostgresStore) ListCohorts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM cohorts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, name string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (name, data) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		name, data)
	return err
}

func (s *PostgresStore) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM artifacts WHERE name = $1`, name).Scan(&data)
	if err != nil {
		return nil, notFound(err, artifactsDir, name)
	}
	return data, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch statement %d: %w", i, err)
		}
	}
	return results.Close()
}
