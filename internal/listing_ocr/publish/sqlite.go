package publish

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/store"
)

//go:embed schema/listings.sql
var listingsSchema string

// SQLite 把记录镜像到 SQLite 表 listings，方便直接用 SQL 查询
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite 打开数据库并建表
func OpenSQLite(path string, log *zap.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(listingsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create listings table: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Close 关闭数据库
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Publish 在一个事务里 upsert 全部记录，并删掉落盘文件里已经不存在的行
func (s *SQLite) Publish(ctx context.Context, artifactPath string) error {
	recs, err := store.ReadArtifact(artifactPath)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO listings (item_id, sold_date, title, sold_price, seller_id, source_url, processed_at, status, image_id, duplicate_of)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(item_id) DO UPDATE SET
  sold_date = excluded.sold_date,
  title = excluded.title,
  sold_price = excluded.sold_price,
  seller_id = excluded.seller_id,
  source_url = excluded.source_url,
  processed_at = excluded.processed_at,
  status = excluded.status,
  image_id = excluded.image_id,
  duplicate_of = excluded.duplicate_of`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	keep := make(map[string]bool, len(recs))
	for _, r := range recs {
		keep[r.ItemID] = true
		if _, err := stmt.ExecContext(ctx,
			r.ItemID,
			nullString(r.SoldDate),
			nullString(r.Title),
			nullString(r.SoldPrice),
			nullString(r.SellerID),
			r.SourceURL,
			toMillis(r.ProcessedAt),
			string(r.Status),
			r.ImageID,
			r.DuplicateOf,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ItemID, err)
		}
	}

	stale, err := staleIDs(ctx, tx, keep)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("Mirrored records to sqlite", zap.Int("records", len(recs)), zap.Int("deleted", len(stale)))
	return nil
}

// Get 按 item_id 读回一条记录
func (s *SQLite) Get(ctx context.Context, id string) (model.ListingRecord, bool, error) {
	var (
		r                              model.ListingRecord
		soldDate, title, price, seller sql.NullString
		status                         string
		processedAt                    int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT item_id, sold_date, title, sold_price, seller_id, source_url, processed_at, status, image_id, duplicate_of
FROM listings WHERE item_id = ?`, id).Scan(
		&r.ItemID, &soldDate, &title, &price, &seller, &r.SourceURL, &processedAt, &status, &r.ImageID, &r.DuplicateOf,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ListingRecord{}, false, nil
	}
	if err != nil {
		return model.ListingRecord{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	r.SoldDate = fromNull(soldDate)
	r.Title = fromNull(title)
	r.SoldPrice = fromNull(price)
	r.SellerID = fromNull(seller)
	r.ProcessedAt = time.UnixMilli(processedAt).UTC()
	r.Status = model.Status(status)
	return r, true, nil
}

// Count 表里的行数
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

func staleIDs(ctx context.Context, tx *sql.Tx, keep map[string]bool) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT item_id FROM listings`)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
