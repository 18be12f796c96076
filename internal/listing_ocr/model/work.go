package model

// Reason 图片进入本轮工作列表的原因
type Reason string

const (
	ReasonNew            Reason = "New"
	ReasonRetryReprocess Reason = "Retry-Reprocess"
	ReasonRetryFail      Reason = "Retry-Fail"
)

// SourceImage 图片源返回的一项
type SourceImage struct {
	ImageURL string `json:"image_url"`
	ItemID   string `json:"item_id"`
}

// WorkItem 本轮需要（重新）识别的图片，不落盘
type WorkItem struct {
	ImageURL string
	ItemID   string
	Reason   Reason
}

// Line OCR 识别出的一行
type Line struct {
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Overlay OCR 结果：纯文本，或者带顺序的行
type Overlay struct {
	Text  string `json:"text"`
	Lines []Line `json:"lines,omitempty"`
}

// Empty 没有任何识别内容
func (o Overlay) Empty() bool {
	return o.Text == "" && len(o.Lines) == 0
}
