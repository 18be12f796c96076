package model

import "time"

// Status 记录的处理状态
type Status string

const (
	StatusComplete  Status = "Complete"
	StatusReprocess Status = "Reprocess"
	StatusFail      Status = "Fail"
)

// Valid 是否为已知状态
func (s Status) Valid() bool {
	switch s {
	case StatusComplete, StatusReprocess, StatusFail:
		return true
	}
	return false
}

// ListingRecord 从一张截图中解析出来的成交记录
type ListingRecord struct {
	ItemID      string    `bson:"_id" json:"item_id"`
	SoldDate    *string   `bson:"sold_date" json:"sold_date"`
	Title       *string   `bson:"title" json:"title"`
	SoldPrice   *string   `bson:"sold_price" json:"sold_price"` // 不带 $，保留原始文本
	SellerID    *string   `bson:"seller_id" json:"seller_id"`
	SourceURL   string    `bson:"source_url" json:"source_url"`
	ProcessedAt time.Time `bson:"processed_at" json:"processed_at"` // UTC
	Status      Status    `bson:"status" json:"status"`

	// 多条模式下记录所属的图片 ID，单条模式为空
	ImageID string `bson:"image_id,omitempty" json:"image_id,omitempty"`
	// 与之前某条记录的日期/标题/价格完全相同时，指向那条记录
	DuplicateOf string `bson:"duplicate_of,omitempty" json:"duplicate_of,omitempty"`
}

// SourceImageID 记录对应的源图片 ID
func (r ListingRecord) SourceImageID() string {
	if r.ImageID != "" {
		return r.ImageID
	}
	return r.ItemID
}

// Str 返回字符串指针，空串返回 nil
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref 指针取值，nil 返回空串
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// DeriveStatus 日期、标题、价格都有才算 Complete。Fail 只由 OCR 调用失败产生，不在这里推导。
func DeriveStatus(rec ListingRecord) Status {
	if rec.SoldDate != nil && rec.Title != nil && rec.SoldPrice != nil {
		return StatusComplete
	}
	return StatusReprocess
}
