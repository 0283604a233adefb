package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/petsync/pkg/config"

	_ "github.com/lib/pq"    // PostgreSQL driver
	_ "modernc.org/sqlite"   // pure-Go sqlite driver, default backend
)

// NewMongoClientFactory is swappable for tests.
var NewMongoClientFactory = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

// NewStore opens the configured backend. sqlite is the per-installation
// default; postgres and mongo serve installations that already run a local
// server-grade database.
func NewStore(ctx context.Context, cfg config.DbSettings) (OfflineStore, error) {
	switch cfg.Type {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:petsync.db"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// The sqlite driver serializes access through a single connection,
		// which is what keeps read-modify-write sequences from interleaving.
		db.SetMaxOpenConns(1)
		return NewSQLRepository(ctx, db, "sqlite")
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLRepository(ctx, db, "postgres")
	case "mongo":
		client, err := NewMongoClientFactory(ctx, cfg.URI)
		if err != nil {
			return nil, err
		}
		return NewMongoRepository(client, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
