package model

// Counts 各状态的记录数
type Counts struct {
	Total      int `json:"total"`
	Complete   int `json:"complete"`
	Reprocess  int `json:"reprocess"`
	Fail       int `json:"fail"`
	Duplicates int `json:"duplicates"`
}

// Tally 统计
func Tally(records []ListingRecord) Counts {
	var c Counts
	for _, r := range records {
		c.Total++
		switch r.Status {
		case StatusComplete:
			c.Complete++
		case StatusReprocess:
			c.Reprocess++
		case StatusFail:
			c.Fail++
		}
		if r.DuplicateOf != "" {
			c.Duplicates++
		}
	}
	return c
}
