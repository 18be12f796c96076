package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// Store 以 item_id 为键的记录集合，启动时从 JSON 文件加载，结束时写回
type Store struct {
	path    string
	log     *zap.Logger
	records map[string]model.ListingRecord
}

// New 创建记录存储，此时还没有读文件
func New(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path:    path,
		log:     log,
		records: make(map[string]model.ListingRecord),
	}
}

// Path 落盘文件路径
func (s *Store) Path() string {
	return s.path
}

// Load 读取落盘文件。文件不存在返回空集合；内容损坏记日志后同样当作空集合（宁可丢数据也不中断）；
// 其他读错误返回 error。
func (s *Store) Load() (map[string]model.ListingRecord, error) {
	s.records = make(map[string]model.ListingRecord)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info("Artifact not found, starting with empty store", zap.String("path", s.path))
		return s.Records(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", s.path, err)
	}

	recs, version, err := decode(data, s.log)
	if err != nil {
		s.log.Warn("Malformed artifact, starting with empty store",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return s.Records(), nil
	}
	for _, r := range recs {
		s.records[r.ItemID] = r
	}

	s.log.Info("Loaded artifact",
		zap.String("path", s.path),
		zap.Int("schemaVersion", version),
		zap.Int("records", len(s.records)),
	)
	return s.Records(), nil
}

// Classify 对比图片源与已有记录，得到本轮工作列表。保持图片源的顺序，重复的图片只取第一次出现。
func (s *Store) Classify(items []model.SourceImage) []model.WorkItem {
	byImage := make(map[string][]model.Status)
	for _, r := range s.records {
		id := r.SourceImageID()
		byImage[id] = append(byImage[id], r.Status)
	}

	seen := make(map[string]bool, len(items))
	var work []model.WorkItem
	for _, it := range items {
		if it.ItemID == "" || seen[it.ItemID] {
			continue
		}
		seen[it.ItemID] = true

		reason, ok := classify(byImage[it.ItemID])
		if !ok {
			continue
		}
		work = append(work, model.WorkItem{
			ImageURL: it.ImageURL,
			ItemID:   it.ItemID,
			Reason:   reason,
		})
	}
	return work
}

// classify 无记录 -> New；有 Fail -> Retry-Fail；有 Reprocess -> Retry-Reprocess；全部 Complete -> 排除
func classify(statuses []model.Status) (model.Reason, bool) {
	if len(statuses) == 0 {
		return model.ReasonNew, true
	}
	reason, ok := model.Reason(""), false
	for _, st := range statuses {
		switch st {
		case model.StatusFail:
			return model.ReasonRetryFail, true
		case model.StatusReprocess:
			reason, ok = model.ReasonRetryReprocess, true
		}
	}
	return reason, ok
}

// Apply 按 item_id 替换（或插入）一条记录，同一轮内重复调用以最后一次为准
func (s *Store) Apply(rec model.ListingRecord) {
	apply(s.records, rec)
}

// ApplyImage 多条模式下替换一张图片的全部记录：已 Complete 的记录不动，
// 这张图片上不再出现的未完成记录删除。
func (s *Store) ApplyImage(imageID string, recs []model.ListingRecord) {
	keep := make(map[string]bool, len(recs))
	for _, r := range recs {
		keep[r.ItemID] = true
	}
	for id, old := range s.records {
		if old.SourceImageID() == imageID && old.Status != model.StatusComplete && !keep[id] {
			delete(s.records, id)
		}
	}
	for _, r := range recs {
		if old, ok := s.records[r.ItemID]; ok && old.Status == model.StatusComplete {
			continue
		}
		apply(s.records, r)
	}
}

// apply 替换式 reducer：map 的键保证每个 item_id 至多一条。
// 内容没变时保留旧记录，重复运行不会让文件抖动。
func apply(records map[string]model.ListingRecord, rec model.ListingRecord) {
	rec.DuplicateOf = duplicateOf(records, rec)
	if old, ok := records[rec.ItemID]; ok && sameContent(old, rec) {
		return
	}
	records[rec.ItemID] = rec
}

// duplicateOf 日期、标题、价格都相同的另一条记录（取 item_id 最小的一条）
func duplicateOf(records map[string]model.ListingRecord, rec model.ListingRecord) string {
	if rec.SoldDate == nil || rec.Title == nil || rec.SoldPrice == nil {
		return ""
	}
	var found string
	for id, other := range records {
		if id == rec.ItemID || other.DuplicateOf != "" {
			continue
		}
		if model.Deref(other.SoldDate) == *rec.SoldDate &&
			model.Deref(other.Title) == *rec.Title &&
			model.Deref(other.SoldPrice) == *rec.SoldPrice {
			if found == "" || id < found {
				found = id
			}
		}
	}
	return found
}

func sameContent(a, b model.ListingRecord) bool {
	return a.ItemID == b.ItemID &&
		a.Status == b.Status &&
		a.SourceURL == b.SourceURL &&
		a.ImageID == b.ImageID &&
		a.DuplicateOf == b.DuplicateOf &&
		model.Deref(a.SoldDate) == model.Deref(b.SoldDate) && (a.SoldDate == nil) == (b.SoldDate == nil) &&
		model.Deref(a.Title) == model.Deref(b.Title) && (a.Title == nil) == (b.Title == nil) &&
		model.Deref(a.SoldPrice) == model.Deref(b.SoldPrice) && (a.SoldPrice == nil) == (b.SoldPrice == nil) &&
		model.Deref(a.SellerID) == model.Deref(b.SellerID) && (a.SellerID == nil) == (b.SellerID == nil)
}

// Get 按 item_id 取记录
func (s *Store) Get(id string) (model.ListingRecord, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Records 当前记录的副本
func (s *Store) Records() map[string]model.ListingRecord {
	out := make(map[string]model.ListingRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Sorted 按 item_id 排序的记录
func (s *Store) Sorted() []model.ListingRecord {
	out := make([]model.ListingRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Counts 各状态统计
func (s *Store) Counts() model.Counts {
	return model.Tally(s.Sorted())
}

// Persist 整体写回落盘文件：先写临时文件再 rename，中途被打断也不会留下半个文件
func (s *Store) Persist() error {
	data, err := json.MarshalIndent(artifact{
		SchemaVersion: SchemaVersion,
		Records:       s.Sorted(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("persist artifact %s: %w", s.path, err)
	}
	s.log.Debug("Artifact persisted", zap.String("path", s.path), zap.Int("records", len(s.records)))
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
