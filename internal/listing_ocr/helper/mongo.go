package helper

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"listing-ocr/pkg/config"
)

type Stores struct {
	Client   *mongo.Client
	DB       *mongo.Database
	Listings *mongo.Collection // 记录镜像：_id 即 item_id
}

// ConnectMongo 连接并 ping，确保索引存在
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*Stores, error) {
	clientOpts := options.Client().ApplyURI("mongodb://" + cfg.Host)
	if cfg.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	cli, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo %s: %w", cfg.Host, err)
	}
	if err = cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo %s: %w", cfg.Host, err)
	}

	coll := cfg.Collection
	if coll == "" {
		coll = "listings"
	}
	db := cli.Database(cfg.DBName)
	s := &Stores{
		Client:   cli,
		DB:       db,
		Listings: db.Collection(coll),
	}
	if err := ensureIndexes(ctx, s); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close 断开连接
func (s *Stores) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

func ensureIndexes(ctx context.Context, s *Stores) error {
	// listings: 按状态、日期、来源图片查询
	_, err := s.Listings.Indexes().CreateMany(ctx, ListingIndexes())
	if err != nil {
		return fmt.Errorf("ensure listing indexes: %w", err)
	}
	return nil
}

// ListingIndexes 记录镜像集合的索引
func ListingIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "sold_date", Value: 1}}},
		{Keys: bson.D{{Key: "image_id", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
}

// ConfigureTimeLocation 加载时区；加载失败时退回 UTC 并返回错误供调用方记录
func ConfigureTimeLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}
