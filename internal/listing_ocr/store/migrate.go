package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// SchemaVersion 当前落盘格式版本
const SchemaVersion = 2

// artifact v2 落盘格式
type artifact struct {
	SchemaVersion int                   `json:"schema_version"`
	Records       []model.ListingRecord `json:"records"`
}

var (
	errEmptyArtifact = errors.New("empty artifact")
	dateMarker       = regexp.MustCompile(`(?i)^(?:sold|ended)\s+`)
)

// ReadArtifact 读取并解码落盘文件，供发布和查询接口使用。与 Load 不同，内容损坏时返回错误。
func ReadArtifact(path string) ([]model.ListingRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	recs, _, err := decode(data, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	return recs, nil
}

// decode 识别版本并迁移到当前结构：
//   - v2: {"schema_version":2,"records":[...]}
//   - v1: 历史脚本直接输出的数组，或以 id 为键的对象，字段名各版本不一
func decode(data []byte, log *zap.Logger) ([]model.ListingRecord, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, 0, errEmptyArtifact
	}

	switch trimmed[0] {
	case '[':
		var raw []map[string]any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, 0, fmt.Errorf("decode legacy array: %w", err)
		}
		return migrateLegacy(raw, nil, log), 1, nil

	case '{':
		var probe struct {
			SchemaVersion *int            `json:"schema_version"`
			Records       json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, 0, fmt.Errorf("decode artifact: %w", err)
		}
		if probe.SchemaVersion == nil {
			var keyed map[string]map[string]any
			if err := json.Unmarshal(trimmed, &keyed); err != nil {
				return nil, 0, fmt.Errorf("decode legacy object: %w", err)
			}
			ids := make([]string, 0, len(keyed))
			for id := range keyed {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			raw := make([]map[string]any, 0, len(ids))
			for _, id := range ids {
				raw = append(raw, keyed[id])
			}
			return migrateLegacy(raw, ids, log), 1, nil
		}
		if v := *probe.SchemaVersion; v != SchemaVersion {
			return nil, v, fmt.Errorf("unsupported schema version %d", v)
		}
		var recs []model.ListingRecord
		if len(probe.Records) > 0 && string(probe.Records) != "null" {
			if err := json.Unmarshal(probe.Records, &recs); err != nil {
				return nil, SchemaVersion, fmt.Errorf("decode records: %w", err)
			}
		}
		return normalizeRecords(recs, log), SchemaVersion, nil
	}
	return nil, 0, fmt.Errorf("unexpected artifact content starting with %q", trimmed[0])
}

// normalizeRecords 去掉没有 id 的记录，状态按字段重新推导（Fail 保留）
func normalizeRecords(recs []model.ListingRecord, log *zap.Logger) []model.ListingRecord {
	out := recs[:0]
	for _, r := range recs {
		if r.ItemID == "" {
			log.Warn("Dropping record without item_id", zap.String("sourceURL", r.SourceURL))
			continue
		}
		if r.Status != model.StatusFail {
			r.Status = model.DeriveStatus(r)
		}
		out = append(out, r)
	}
	return out
}

// migrateLegacy 把历史字段名映射到当前结构。
// 旧的多条脚本给每条记录写 image_id，同一张图片的多条记录共用一个 id，这里改成 <id>#n 并记下 image_id。
// 单条脚本重试时会把同一张图片再追加一次，这种重复保留最后一次。
func migrateLegacy(raw []map[string]any, keys []string, log *zap.Logger) []model.ListingRecord {
	out := make([]model.ListingRecord, 0, len(raw))
	multi := make([]bool, 0, len(raw))
	counts := make(map[string]int)
	for i, m := range raw {
		fallback := ""
		if keys != nil {
			fallback = keys[i]
		}
		rec, ok := migrateOne(m, fallback)
		if !ok {
			log.Warn("Dropping legacy record without id", zap.Int("index", i))
			continue
		}
		isMulti := firstString(m, "image_id") != ""
		if isMulti {
			counts[rec.ItemID]++
		}
		out = append(out, rec)
		multi = append(multi, isMulti)
	}

	kept := make([]model.ListingRecord, 0, len(out))
	lastAt := make(map[string]int)
	seq := make(map[string]int)
	for i, rec := range out {
		if multi[i] && counts[rec.ItemID] > 1 {
			img := rec.ItemID
			seq[img]++
			rec.ImageID = img
			rec.ItemID = fmt.Sprintf("%s#%d", img, seq[img])
			kept = append(kept, rec)
			continue
		}
		if j, ok := lastAt[rec.ItemID]; ok {
			kept[j] = rec
			continue
		}
		lastAt[rec.ItemID] = len(kept)
		kept = append(kept, rec)
	}
	return kept
}

func migrateOne(m map[string]any, fallbackID string) (model.ListingRecord, bool) {
	id := firstString(m, "item_id", "publicId", "public_id", "image_id")
	if id == "" {
		id = fallbackID
	}
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return model.ListingRecord{}, false
	}

	rec := model.ListingRecord{
		ItemID:      id,
		SoldDate:    model.Str(dateMarker.ReplaceAllString(firstString(m, "sold_date", "date"), "")),
		Title:       model.Str(firstString(m, "title", "listing_title")),
		SoldPrice:   model.Str(strings.TrimPrefix(firstString(m, "sold_price", "price"), "$")),
		SellerID:    model.Str(firstString(m, "seller_id", "seller")),
		SourceURL:   firstString(m, "source_url", "image_url", "url"),
		ProcessedAt: parseTime(firstString(m, "processed_at", "timestamp")),
		DuplicateOf: firstString(m, "duplicate_of"),
	}

	errText := firstString(m, "error")
	failed := errText != "" || m["success"] == false || firstString(m, "status") == string(model.StatusFail)
	if failed {
		if errText == "" {
			errText = "unknown error"
		}
		if rec.Title == nil {
			rec.Title = model.Str("OCR error: " + errText)
		}
		rec.Status = model.StatusFail
		return rec, true
	}
	rec.Status = model.DeriveStatus(rec)
	return rec, true
}

// firstString 取第一个非空字段；"N/A" 视为空
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			continue
		default:
			s = fmt.Sprint(t)
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "N/A") {
			continue
		}
		return s
	}
	return ""
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
