package repomongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const logsCollection = "logs"

// Config contains configuration of the MongoDB log storage.
type Config struct {
	ConnStr      string `yaml:"conn_str"`      // ConnStr is the MongoDB connection URI, empty disables the storage.
	DatabaseName string `yaml:"database_name"` // DatabaseName is the name of the database holding the logs collection.
}

// DataBase provides MongoDB access for storing logs of the bot.
type DataBase struct {
	inner *mongo.Database
}

// Connect creates new connection to the MongoDB and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg Config) (*DataBase, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnStr))
	if err != nil {
		return nil, err
	}

	ctxx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := cli.Ping(ctxx, readpref.Primary()); err != nil {
		return nil, err
	}

	db := &DataBase{cli.Database(cfg.DatabaseName)}
	if err := db.ensureIndexes(ctxx); err != nil {
		return nil, err
	}
	return db, nil
}

// Disconnect disconnects from the database.
func (db *DataBase) Disconnect(ctx context.Context) error {
	return db.inner.Client().Disconnect(ctx)
}

// Ping checks if the connection to the database is still alive.
func (db *DataBase) Ping(ctx context.Context) error {
	return db.inner.Client().Ping(ctx, readpref.Primary())
}
