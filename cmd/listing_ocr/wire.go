package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/extractor"
	"listing-ocr/internal/listing_ocr/helper"
	"listing-ocr/internal/listing_ocr/ocr"
	"listing-ocr/internal/listing_ocr/preprocess"
	"listing-ocr/internal/listing_ocr/processor"
	"listing-ocr/internal/listing_ocr/publish"
	"listing-ocr/internal/listing_ocr/source"
	"listing-ocr/internal/listing_ocr/store"
	"listing-ocr/pkg/config"
)

// buildProcessor 按配置组装整条流水线，cleanup 负责关闭外部连接
func buildProcessor(ctx context.Context, cfg *config.Config, log *zap.Logger) (*processor.Processor, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	src, err := newSource(cfg.Source, log)
	if err != nil {
		return nil, cleanup, err
	}
	rec := newRecognizer(cfg.OCR, log)

	x, err := extractor.New(rulesFromConfig(cfg.Extractor))
	if err != nil {
		return nil, cleanup, fmt.Errorf("compile extractor rules: %w", err)
	}

	pubs, err := newPublishers(ctx, cfg.Publish, log, &closers)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	opts := processor.Options{
		Delay:           cfg.Run.Delay,
		CheckpointEvery: cfg.Run.CheckpointEvery,
		MaxItems:        cfg.Run.MaxItems,
		OCRTimeout:      cfg.OCR.Timeout,
		MultiListing:    cfg.Extractor.MultiListing,
	}
	st := store.New(cfg.Store.Path, log)
	return processor.NewProcessor(log, src, rec, x, st, pubs, opts), cleanup, nil
}

func newSource(cfg config.SourceConfig, log *zap.Logger) (source.Lister, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	var l source.Lister
	switch cfg.Kind {
	case "cdn":
		l = &source.CDN{
			BaseURL:    cfg.BaseURL,
			CloudName:  cfg.CloudName,
			APIKey:     cfg.APIKey,
			APISecret:  cfg.APISecret,
			Prefix:     cfg.Prefix,
			MaxResults: cfg.MaxResults,
			MaxPages:   cfg.MaxPages,
			HTTPClient: client,
			Log:        log,
		}
	case "gallery":
		l = &source.Gallery{URL: cfg.GalleryURL, MaxPages: cfg.MaxPages, HTTPClient: client, Log: log}
	case "manifest":
		l = &source.Manifest{Location: cfg.Manifest, HTTPClient: client, Log: log}
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
	return source.WithRetry(l, cfg.Attempts, cfg.RetryDelay, log), nil
}

func newRecognizer(cfg config.OCRConfig, log *zap.Logger) ocr.Recognizer {
	// processor 还会给每次调用加 ctx 超时
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.Kind == "tesseract" {
		var filter preprocess.Filter
		if cfg.Preprocess {
			filter = preprocess.Default(cfg.Upscale)
		}
		return ocr.NewTesseract(&ocr.Fetcher{HTTPClient: client}, filter, cfg.Languages, log)
	}
	return ocr.NewSpace(cfg.Endpoint, cfg.APIKey, cfg.Language, cfg.Engine, client, log)
}

// rulesFromConfig 配置里没写的项由 extractor 补默认值
func rulesFromConfig(cfg config.ExtractorConfig) extractor.Rules {
	r := extractor.DefaultRules()
	if len(cfg.Conditions) > 0 {
		r.Conditions = cfg.Conditions
	}
	if cfg.Noise != nil {
		r.Noise = cfg.Noise
	}
	if cfg.MinTitleLen > 0 {
		r.MinTitleLen = cfg.MinTitleLen
	}
	if cfg.PriceWindow > 0 {
		r.PriceWindow = cfg.PriceWindow
	}
	if cfg.MaxTitleLines > 0 {
		r.MaxTitleLines = cfg.MaxTitleLines
	}
	if cfg.ScanLines > 0 {
		r.ScanLines = cfg.ScanLines
	}
	return r
}

func newPublishers(ctx context.Context, cfg config.PublishConfig, log *zap.Logger, closers *[]func()) ([]publish.Publisher, error) {
	var pubs []publish.Publisher
	if cfg.SQLite.Enabled {
		db, err := publish.OpenSQLite(cfg.SQLite.Path, log)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = db.Close() })
		pubs = append(pubs, db)
	}
	if cfg.Mongo.Enabled {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		stores, err := helper.ConnectMongo(connectCtx, cfg.Mongo)
		cancel()
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stores.Close(closeCtx)
		})
		pubs = append(pubs, &publish.Mongo{Coll: stores.Listings, Log: log})
	}
	if cfg.Git.Enabled {
		pubs = append(pubs, &publish.Git{
			Dir:         cfg.Git.Dir,
			Remote:      cfg.Git.Remote,
			Branch:      cfg.Git.Branch,
			Message:     cfg.Git.Message,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
			Log:         log,
		})
	}
	if cfg.FTP.Enabled {
		pubs = append(pubs, &publish.FTP{
			Addr:       cfg.FTP.Addr,
			Username:   cfg.FTP.Username,
			Password:   cfg.FTP.Password,
			RemotePath: cfg.FTP.RemotePath,
			Timeout:    cfg.FTP.Timeout,
			Log:        log,
		})
	}
	return pubs, nil
}
