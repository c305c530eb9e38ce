package database

import (
	"context"
	"testing"

	"murmur/internal/config"
	"murmur/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool_SQLiteUsesSingleConnection(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, configurePool(db, &config.Config{DBDriver: config.DriverSQLite}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestConfigurePool_Postgres(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, configurePool(db, &config.Config{DBDriver: config.DriverPostgres, DBMaxOpen: 10}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestConnect_SQLiteMigratesSchema(t *testing.T) {
	cfg := &config.Config{
		Env:        "test",
		DBDriver:   config.DriverSQLite,
		SQLitePath: "file::memory:",
	}

	db, err := Connect(cfg)
	require.NoError(t, err)

	for _, m := range []interface{}{&models.User{}, &models.Post{}, &models.Like{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.NoError(t, Ping(context.Background(), db, cfg))
}

func TestConnect_RejectsDocumentDrivers(t *testing.T) {
	_, err := Connect(&config.Config{DBDriver: config.DriverMongo})
	assert.Error(t, err)
}

func TestPostgresDSN_DefaultsSSLMode(t *testing.T) {
	dsn := PostgresDSN(&config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "murmur"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=murmur sslmode=disable", dsn)
}
