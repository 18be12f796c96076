package extractor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Rules 字段解析用到的全部启发式常量。不同版本的解析行为通过改这张表实现，而不是改代码分支。
type Rules struct {
	DateMarkers []string `yaml:"date_markers"`
	Months      []string `yaml:"months"`
	Conditions  []string `yaml:"conditions"`
	// Noise 为正则，命中的片段既不算标题也不算终止符
	Noise []string `yaml:"noise"`

	MinTitleLen   int `yaml:"min_title_len"`
	PriceWindow   int `yaml:"price_window"`    // 标题之后查找价格的字符数
	MaxTitleLines int `yaml:"max_title_lines"` // 多条模式
	ScanLines     int `yaml:"scan_lines"`      // 多条模式下价格、卖家各自最多向后看几行
}

// DefaultRules 默认规则
func DefaultRules() Rules {
	return Rules{
		DateMarkers: []string{"Sold", "Ended"},
		Months: []string{
			"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December",
		},
		Conditions: []string{
			"Brand New",
			"Pre-Owned",
			"New with tags",
			"New other",
			"Open box",
			"Used",
			"For parts or not working",
			"For parts",
			"New",
		},
		Noise: []string{
			`(?i)\b\d+\s*(?:bids?|watchers?)\b`,
			`(?i)\bor Best Offer\b`,
			`(?i)\bBuy It Now\b`,
			`(?i:located in)(?:\s+[A-Z][A-Za-z.]*){1,3}`,
			`(?i)\+\s?\$\d+(?:\.\d{1,2})?\s+(?:shipping|delivery|postage)\b`,
			`(?i)\bFree (?:shipping|delivery|returns)\b`,
			`(?i)\bSell one like this\b`,
			`(?i)\bView similar(?: active)? items\b`,
		},
		MinTitleLen:   3,
		PriceWindow:   120,
		MaxTitleLines: 5,
		ScanLines:     8,
	}
}

// withDefaults 未配置的项用默认值补齐
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if len(r.DateMarkers) == 0 {
		r.DateMarkers = d.DateMarkers
	}
	if len(r.Months) == 0 {
		r.Months = d.Months
	}
	if len(r.Conditions) == 0 {
		r.Conditions = d.Conditions
	}
	if r.Noise == nil {
		r.Noise = d.Noise
	}
	if r.MinTitleLen <= 0 {
		r.MinTitleLen = d.MinTitleLen
	}
	if r.PriceWindow <= 0 {
		r.PriceWindow = d.PriceWindow
	}
	if r.MaxTitleLines <= 0 {
		r.MaxTitleLines = d.MaxTitleLines
	}
	if r.ScanLines <= 0 {
		r.ScanLines = d.ScanLines
	}
	return r
}

const (
	pricePattern      = `\$(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`
	handlePattern     = `[A-Za-z0-9._-]`
	sellerPattern     = `(?i)(` + handlePattern + `+)\s+\d+(?:\.\d+)?\s?%?\s+positive\b`
	sellerLabel       = `(?i)\bseller\s*:\s*(` + handlePattern + `+)`
	sellerHandleLine  = `^[A-Za-z]` + handlePattern + `{2,}$`
	sellerPercentLine = `^\d+(?:\.\d+)?\s*%`
)

// compiled 编译后的规则
type compiled struct {
	rules Rules

	date          *regexp.Regexp // 全文中的日期锚点
	dateLine      *regexp.Regexp // 行首的日期锚点
	condition     *regexp.Regexp
	conditionLine *regexp.Regexp
	priceStop     *regexp.Regexp
	priceLine     *regexp.Regexp
	price         *regexp.Regexp
	seller        *regexp.Regexp
	sellerLabel   *regexp.Regexp
	handleLine    *regexp.Regexp
	percentLine   *regexp.Regexp
	letters       *regexp.Regexp
	noise         []*regexp.Regexp
}

func compile(r Rules) (*compiled, error) {
	r = r.withDefaults()

	markers := alternation(r.DateMarkers)
	months := alternation(monthForms(r.Months))
	dateBody := `((?:` + months + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`
	conds := alternation(r.Conditions)

	c := &compiled{rules: r}
	var err error
	if c.date, err = regexp.Compile(`(?i)\b(` + markers + `)\s+` + dateBody); err != nil {
		return nil, fmt.Errorf("compile date pattern: %w", err)
	}
	if c.dateLine, err = regexp.Compile(`(?i)^(` + markers + `)\s+` + dateBody); err != nil {
		return nil, fmt.Errorf("compile date line pattern: %w", err)
	}
	if c.condition, err = regexp.Compile(`(?i)(?:^|\s)(` + conds + `)(?:$|[\s,;:.!)\]|])`); err != nil {
		return nil, fmt.Errorf("compile condition pattern: %w", err)
	}
	if c.conditionLine, err = regexp.Compile(`(?i)^(?:` + conds + `)$`); err != nil {
		return nil, fmt.Errorf("compile condition line pattern: %w", err)
	}
	c.priceStop = regexp.MustCompile(`(?:^|\s)(\$\d)`)
	c.priceLine = regexp.MustCompile(`^\$\d`)
	c.price = regexp.MustCompile(pricePattern)
	c.seller = regexp.MustCompile(sellerPattern)
	c.sellerLabel = regexp.MustCompile(sellerLabel)
	c.handleLine = regexp.MustCompile(sellerHandleLine)
	c.percentLine = regexp.MustCompile(sellerPercentLine)
	c.letters = regexp.MustCompile(`[A-Za-z]{3,}`)

	for _, p := range r.Noise {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile noise pattern %q: %w", p, err)
		}
		c.noise = append(c.noise, re)
	}
	return c, nil
}

// monthForms 全称、三字母缩写，以及 Sept
func monthForms(months []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, s)
	}
	for _, m := range months {
		add(m)
		if len(m) > 3 {
			add(m[:3])
		}
		if strings.EqualFold(m, "September") {
			add("Sept")
		}
	}
	return out
}

// alternation 长的在前，避免 New 抢在 Brand New 之前匹配
func alternation(words []string) string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, 0, len(sorted))
	for _, w := range sorted {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
	}
	return strings.Join(quoted, "|")
}
