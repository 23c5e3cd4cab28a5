package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/darkodi/terabox-bot/internal/config"
	"github.com/darkodi/terabox-bot/internal/model"
)

var ErrNotFound = errors.New("user not found")

// UserRepository stores every user who has talked to the bot
type UserRepository struct {
	db     *sql.DB
	driver string
}

// NewUserRepository opens the database and creates the schema
func NewUserRepository(cfg *config.DatabaseConfig) (*UserRepository, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	// sqlite :memory: gives every connection its own database
	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	// Create table if not exists
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS users (
            id BIGINT PRIMARY KEY,
            first_name TEXT NOT NULL DEFAULT '',
            username TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP NOT NULL,
            last_seen_at TIMESTAMP NOT NULL
        )
    `)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	return &UserRepository{db: db, driver: cfg.Driver}, nil
}

// Upsert records a user, refreshing name and last-seen time. It reports
// whether the user was new.
func (r *UserRepository) Upsert(ctx context.Context, u model.User) (bool, error) {
	now := time.Now().UTC()

	var exists bool
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)"), u.ID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}

	_, err = r.db.ExecContext(ctx, r.rebind(`
        INSERT INTO users (id, first_name, username, created_at, last_seen_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            first_name = excluded.first_name,
            username = excluded.username,
            last_seen_at = excluded.last_seen_at
    `), u.ID, u.FirstName, u.Username, now, now)
	if err != nil {
		return false, err
	}

	return !exists, nil
}

// Get returns one user
func (r *UserRepository) Get(ctx context.Context, id int64) (*model.User, error) {
	u := &model.User{}
	err := r.db.QueryRowContext(ctx,
		r.rebind("SELECT id, first_name, username, created_at, last_seen_at FROM users WHERE id = ?"),
		id,
	).Scan(&u.ID, &u.FirstName, &u.Username, &u.CreatedAt, &u.LastSeenAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// IDs returns every known user id in insertion order
func (r *UserRepository) IDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of known users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// Delete removes a user, e.g. after they blocked the bot
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.rebind("DELETE FROM users WHERE id = ?"), id)
	return err
}

// Close closes the database connection
func (r *UserRepository) Close() error {
	return r.db.Close()
}

// rebind rewrites ? placeholders as $1, $2... for postgres
func (r *UserRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
