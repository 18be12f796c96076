package ocr

import (
	"context"
	"errors"
	"fmt"

	"listing-ocr/internal/listing_ocr/model"
)

// Recognizer 识别一张图片里的文字
type Recognizer interface {
	Recognize(ctx context.Context, imageURL string) (model.Overlay, error)
}

// 错误分类：网络/HTTP 层失败与 OCR 引擎自身报错。两者对驱动来说都是单条失败。
var (
	ErrTransport = errors.New("ocr transport error")
	ErrEngine    = errors.New("ocr engine error")
)

// Error 带分类的 OCR 错误，errors.Is 可同时匹配分类和底层错误
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func transportErr(format string, args ...any) error {
	return &Error{Kind: ErrTransport, Err: fmt.Errorf(format, args...)}
}

func engineErr(format string, args ...any) error {
	return &Error{Kind: ErrEngine, Err: fmt.Errorf(format, args...)}
}
