package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sbtg-data/flowmirror/pkg/config"
)

// MongoClientCreator defines a function type for connecting to Mongo, so
// tests can substitute the connection step.
type MongoClientCreator func(ctx context.Context, uri string) (*mongo.Client, error)

var NewMongoClient MongoClientCreator = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
}

// NewStores builds the repository set for the configured entity-store
// backend.
func NewStores(ctx context.Context, cfg config.DbSettings) (Stores, error) {
	switch cfg.Type {
	case "mongo":
		client, err := NewMongoClient(ctx, cfg.URI)
		if err != nil {
			return Stores{}, err
		}
		return NewMongoStores(client, cfg.Name), nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return Stores{}, err
		}
		return NewPostgresStores(db), nil
	case "memory":
		return NewMemoryStores(), nil
	default:
		return Stores{}, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
