package extractor

import (
	"fmt"
	"strings"
	"time"

	"listing-ocr/internal/listing_ocr/model"
)

// ExtractAll 多条模式：一张图里可能有多条成交记录，每个日期锚点一条。
// 游标只向前走，后面的记录不会再用到前面已经归属的行。
func (x *Extractor) ExtractAll(imageID, sourceURL string, in model.Overlay, now time.Time) []model.ListingRecord {
	lines, ok := x.lines(in)
	if !ok {
		return nil
	}
	r := x.c.rules

	var out []model.ListingRecord
	for i := 0; i < len(lines); {
		m := x.c.dateLine.FindStringSubmatch(lines[i])
		if m == nil {
			i++
			continue
		}
		rec := model.ListingRecord{
			ItemID:      fmt.Sprintf("%s#%d", imageID, len(out)+1),
			ImageID:     imageID,
			SoldDate:    model.Str(m[2]),
			SourceURL:   sourceURL,
			ProcessedAt: now.UTC(),
		}
		tail := strings.TrimSpace(lines[i][len(m[0]):])
		i++

		// 日期行后面可能就跟着标题，甚至成色和价格
		var parts []string
		titleDone := false
		if tail != "" {
			if t, at, ok := x.title(tail, 0); ok && t != nil {
				rec.Title = t
				titleDone = true
				if pm := x.c.price.FindStringSubmatch(tail[at:]); pm != nil {
					rec.SoldPrice = model.Str(pm[1])
				}
				if seller, _ := x.sellerAt([]string{tail[at:]}, 0); seller != "" {
					rec.SellerID = model.Str(seller)
				}
			} else if rest := x.stripNoise(tail); !ok && len(rest) >= r.MinTitleLen && x.c.letters.MatchString(rest) {
				parts = append(parts, rest)
			}
		}

		// 标题：直到成色行（吃掉）或价格行（不吃）
		for !titleDone && i < len(lines) && len(parts) < r.MaxTitleLines {
			cur := lines[i]
			if x.isDateLine(cur) || x.c.priceLine.MatchString(cur) {
				break
			}
			if x.c.conditionLine.MatchString(cur) {
				i++
				break
			}
			if !x.isNoiseLine(cur) && len(cur) >= r.MinTitleLen && x.c.letters.MatchString(cur) {
				parts = append(parts, cur)
			}
			i++
		}
		if !titleDone {
			rec.Title = x.titleValue(strings.Join(parts, " "))
		}

		for n := 0; rec.SoldPrice == nil && n < r.ScanLines && i < len(lines); n++ {
			if x.isDateLine(lines[i]) {
				break
			}
			pm := x.c.price.FindStringSubmatch(lines[i])
			i++
			if pm != nil {
				rec.SoldPrice = model.Str(pm[1])
				break
			}
		}

		for n := 0; rec.SellerID == nil && n < r.ScanLines && i < len(lines); n++ {
			if x.isDateLine(lines[i]) {
				break
			}
			if seller, used := x.sellerAt(lines, i); seller != "" {
				rec.SellerID = model.Str(seller)
				i += used
				break
			}
			i++
		}

		rec.Status = model.DeriveStatus(rec)
		out = append(out, rec)
	}
	return out
}

// sellerAt 在第 i 行尝试识别卖家，返回卖家和消耗的行数
func (x *Extractor) sellerAt(lines []string, i int) (string, int) {
	cur := lines[i]
	if m := x.c.seller.FindStringSubmatch(cur); m != nil && validHandle(m[1]) {
		return m[1], 1
	}
	if m := x.c.sellerLabel.FindStringSubmatch(cur); m != nil && validHandle(m[1]) {
		return m[1], 1
	}
	if i+1 >= len(lines) {
		return "", 0
	}
	next := lines[i+1]
	if m := x.c.seller.FindStringSubmatch(cur + " " + next); m != nil && validHandle(m[1]) {
		return m[1], 2
	}
	if x.c.handleLine.MatchString(cur) && x.c.percentLine.MatchString(next) {
		return cur, 2
	}
	return "", 0
}

func (x *Extractor) isDateLine(line string) bool {
	return x.c.dateLine.MatchString(line)
}
