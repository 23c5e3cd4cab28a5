package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/terabox-bot/internal/config"
	"github.com/darkodi/terabox-bot/internal/model"
)

func setupTestRepo(t *testing.T) *UserRepository {
	t.Helper()
	// Use in-memory SQLite for tests
	repo, err := NewUserRepository(&config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestUpsert_NewAndExisting(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	created, err := repo.Upsert(ctx, model.User{ID: 1, FirstName: "Ada", Username: "ada"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.Upsert(ctx, model.User{ID: 1, FirstName: "Ada L", Username: "ada_l"})
	require.NoError(t, err)
	assert.False(t, created)

	u, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada L", u.FirstName)
	assert.Equal(t, "ada_l", u.Username)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestGet_NotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIDsCountDelete(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, id := range []int64{10, 20, 30} {
		_, err := repo.Upsert(ctx, model.User{ID: id, FirstName: "u"})
		require.NoError(t, err)
	}

	ids, err := repo.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 20, 30}, ids)

	require.NoError(t, repo.Delete(ctx, 20))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRebind(t *testing.T) {
	pg := &UserRepository{driver: "postgres"}
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND username = $2", pg.rebind("SELECT * FROM users WHERE id = ? AND username = ?"))

	lite := &UserRepository{driver: "sqlite3"}
	assert.Equal(t, "id = ?", lite.rebind("id = ?"))
}

func TestNewUserRepository_BadDriver(t *testing.T) {
	_, err := NewUserRepository(&config.DatabaseConfig{Driver: "nope", DSN: "x"})
	assert.Error(t, err)
}
