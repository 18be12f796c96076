package publish

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/store"
)

// Mongo 把全部记录镜像到 MongoDB 集合，_id 即 item_id
type Mongo struct {
	Coll *mongo.Collection
	Log  *zap.Logger
}

func (m *Mongo) Name() string { return "mongo" }

// Publish 按 _id 批量 upsert
func (m *Mongo) Publish(ctx context.Context, artifactPath string) error {
	recs, err := store.ReadArtifact(artifactPath)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	res, err := m.Coll.BulkWrite(ctx, replaceModels(recs), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongo bulk upsert: %w", err)
	}
	if m.Log != nil {
		m.Log.Info("Mirrored records to mongo",
			zap.String("collection", m.Coll.Name()),
			zap.Int64("upserted", res.UpsertedCount),
			zap.Int64("modified", res.ModifiedCount),
		)
	}
	return nil
}

func replaceModels(recs []model.ListingRecord) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(recs))
	for _, r := range recs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: r.ItemID}}).
			SetReplacement(r).
			SetUpsert(true))
	}
	return models
}
