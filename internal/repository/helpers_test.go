package repository

import (
	"context"
	"testing"
	"time"

	"murmur/internal/database"
	"murmur/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	return gormDB, mock
}

func setupSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// seedPosts creates n posts by author, the i-th one minute after the
// previous, and returns them oldest first.
func seedPosts(t *testing.T, repo PostRepository, author string, n int) []*models.Post {
	t.Helper()
	posts := make([]*models.Post, 0, n)
	for i := range n {
		p := &models.Post{
			AuthorID:  author,
			Body:      "post",
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), p))
		posts = append(posts, p)
	}
	return posts
}

func ids(posts []*models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func strPtr(s string) *string { return &s }
