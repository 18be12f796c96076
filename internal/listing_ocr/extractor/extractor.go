package extractor

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"listing-ocr/internal/listing_ocr/model"
)

// maxErrorTitle 失败记录里错误信息的最大长度（按字符）
const maxErrorTitle = 120

// Extractor 把 OCR 输出解析成结构化记录。纯函数，不做 I/O，也不会失败。
type Extractor struct {
	c *compiled
}

// New 编译规则表
func New(rules Rules) (*Extractor, error) {
	c, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Extractor{c: c}, nil
}

// Rules 实际生效的规则（已补齐默认值）
func (x *Extractor) Rules() Rules {
	return x.c.rules
}

// Extract 单条模式：一张图解析出一条记录
func (x *Extractor) Extract(itemID, sourceURL string, in model.Overlay, now time.Time) model.ListingRecord {
	rec := model.ListingRecord{
		ItemID:      itemID,
		SourceURL:   sourceURL,
		ProcessedAt: now.UTC(),
		Status:      model.StatusReprocess,
	}
	lines, ok := x.lines(in)
	if !ok {
		return rec
	}
	text := normalize(strings.Join(lines, "\n"))

	priceFrom, priceTo := 0, len(text)
	if m := x.c.date.FindStringSubmatchIndex(text); m != nil {
		rec.SoldDate = model.Str(text[m[4]:m[5]])
		anchor := m[1]
		if title, end, found := x.title(text, anchor); found {
			rec.Title = title
			anchor = end
		}
		priceFrom, priceTo = anchor, min(len(text), anchor+x.c.rules.PriceWindow)
	}
	if pm := x.c.price.FindStringSubmatch(text[priceFrom:priceTo]); pm != nil {
		rec.SoldPrice = model.Str(pm[1])
	}
	rec.SellerID = x.seller(text, lines)

	rec.Status = model.DeriveStatus(rec)
	return rec
}

// DeriveStatus 日期、标题、价格齐全为 Complete，否则 Reprocess
func DeriveStatus(rec model.ListingRecord) model.Status {
	return model.DeriveStatus(rec)
}

// FailRecord OCR 调用失败时写入的记录，错误信息放在标题里方便人工查看
func FailRecord(itemID, sourceURL string, err error, now time.Time) model.ListingRecord {
	msg := "unknown error"
	if err != nil {
		msg = strings.Join(strings.Fields(err.Error()), " ")
	}
	if utf8.RuneCountInString(msg) > maxErrorTitle {
		msg = string([]rune(msg)[:maxErrorTitle])
	}
	return model.ListingRecord{
		ItemID:      itemID,
		Title:       model.Str("OCR error: " + msg),
		SourceURL:   sourceURL,
		ProcessedAt: now.UTC(),
		Status:      model.StatusFail,
	}
}

// lines 按顺序取出非空行；结构缺失或异常时返回 false
func (x *Extractor) lines(in model.Overlay) ([]string, bool) {
	if in.Empty() {
		return nil, false
	}
	var raw []string
	if len(in.Lines) > 0 {
		sorted := append([]model.Line(nil), in.Lines...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
		for _, l := range sorted {
			if l.Order < 0 {
				return nil, false
			}
			raw = append(raw, l.Text)
		}
	} else {
		raw = strings.Split(in.Text, "\n")
	}

	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = normalize(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// title 日期之后到第一个终止符（价格或成色）之间的文本，噪声片段跳过
func (x *Extractor) title(text string, from int) (*string, int, bool) {
	rest := text[from:]
	conds := x.c.condition.FindAllStringSubmatchIndex(rest, -1)
	noise := clipAtConditions(x.noiseSpans(rest), conds)

	stop := -1
	consider := func(start int) {
		if inSpans(noise, start) {
			return
		}
		if stop < 0 || start < stop {
			stop = start
		}
	}
	for _, m := range conds {
		consider(m[2])
	}
	for _, m := range x.c.priceStop.FindAllStringSubmatchIndex(rest, -1) {
		consider(m[2])
	}
	if stop < 0 {
		return nil, from, false
	}

	var b strings.Builder
	pos := 0
	for _, s := range noise {
		if s[0] >= stop {
			break
		}
		if s[0] > pos {
			b.WriteString(rest[pos:s[0]])
			b.WriteByte(' ')
		}
		pos = max(pos, min(s[1], stop))
	}
	if pos < stop {
		b.WriteString(rest[pos:stop])
	}
	return x.titleValue(b.String()), from + stop, true
}

// titleValue 过短或恰好是成色关键词的标题视为没有
func (x *Extractor) titleValue(s string) *string {
	s = strings.Trim(normalize(s), " -|,;:")
	if utf8.RuneCountInString(s) < x.c.rules.MinTitleLen {
		return nil
	}
	if x.c.conditionLine.MatchString(s) {
		return nil
	}
	return &s
}

// seller 优先 "handle 99.5% positive"，其次 "seller: handle"，最后是相邻两行的写法
func (x *Extractor) seller(text string, lines []string) *string {
	for _, m := range x.c.seller.FindAllStringSubmatch(text, -1) {
		if validHandle(m[1]) {
			return model.Str(m[1])
		}
	}
	if m := x.c.sellerLabel.FindStringSubmatch(text); m != nil && validHandle(m[1]) {
		return model.Str(m[1])
	}
	for i := 0; i+1 < len(lines); i++ {
		if x.c.handleLine.MatchString(lines[i]) && x.c.percentLine.MatchString(lines[i+1]) {
			return model.Str(lines[i])
		}
	}
	return nil
}

func (x *Extractor) noiseSpans(s string) [][2]int {
	var spans [][2]int
	for _, re := range x.c.noise {
		for _, m := range re.FindAllStringIndex(s, -1) {
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	return spans
}

// clipAtConditions 成色关键词从噪声片段内部开始、又越过片段末尾时，片段截到关键词之前。
// "Located in United States Brand New" 里地名规则会吞掉 Brand。
func clipAtConditions(spans [][2]int, conds [][]int) [][2]int {
	for i, s := range spans {
		for _, m := range conds {
			if m[2] > s[0] && m[2] < s[1] && m[3] > s[1] {
				spans[i][1] = m[2]
				break
			}
		}
	}
	return spans
}

// stripNoise 去掉噪声片段后的文本
func (x *Extractor) stripNoise(s string) string {
	var b strings.Builder
	pos := 0
	for _, sp := range x.noiseSpans(s) {
		if sp[0] > pos {
			b.WriteString(s[pos:sp[0]])
			b.WriteByte(' ')
		}
		pos = max(pos, sp[1])
	}
	if pos < len(s) {
		b.WriteString(s[pos:])
	}
	return normalize(b.String())
}

func (x *Extractor) isNoiseLine(line string) bool {
	for _, re := range x.c.noise {
		if loc := re.FindStringIndex(line); loc != nil && loc[0] == 0 {
			return true
		}
	}
	return false
}

func inSpans(spans [][2]int, pos int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func validHandle(h string) bool {
	if len(h) < 3 {
		return false
	}
	return strings.ContainsFunc(h, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
}

// normalize 所有空白合并成一个空格
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
