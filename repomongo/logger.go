package repomongo

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bartossh/Accreditor/logger"
)

const writeTimeout = time.Second * 5

// Write writes log to the database.
// p is a marshaled logger.Log. The hex id set by the logging helper is stored as an ObjectID.
func (db *DataBase) Write(p []byte) (n int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	var l logger.Log
	if err := json.Unmarshal(p, &l); err != nil {
		return 0, err
	}
	if hex, ok := l.ID.(string); ok {
		if id, err := primitive.ObjectIDFromHex(hex); err == nil {
			l.ID = id
		}
	}
	if l.ID == nil {
		l.ID = primitive.NewObjectID()
	}
	if _, err := db.inner.Collection(logsCollection).InsertOne(ctx, l); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadLogs reads the newest logs of the service at the given level, an empty level matches every level.
func (db *DataBase) ReadLogs(ctx context.Context, service, level string, limit int64) ([]logger.Log, error) {
	filter := bson.M{"service": service}
	if level != "" {
		filter["level"] = level
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := db.inner.Collection(logsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	logs := make([]logger.Log, 0, limit)
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (db *DataBase) ensureIndexes(ctx context.Context) error {
	_, err := db.inner.Collection(logsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "service", Value: 1}, {Key: "level", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return err
}
