package ocr

import (
	"bytes"
	"context"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/preprocess"
)

// Tesseract 本地 OCR：下载图片、预处理后交给 tesseract
type Tesseract struct {
	Fetcher   *Fetcher
	Filter    preprocess.Filter
	Languages []string
	Log       *zap.Logger

	clientFactory func() *gosseract.Client
}

// NewTesseract 创建本地 OCR；filter 为 nil 时不做预处理
func NewTesseract(fetcher *Fetcher, filter preprocess.Filter, languages []string, log *zap.Logger) *Tesseract {
	if fetcher == nil {
		fetcher = &Fetcher{}
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tesseract{
		Fetcher:       fetcher,
		Filter:        filter,
		Languages:     languages,
		Log:           log,
		clientFactory: gosseract.NewClient,
	}
}

// Recognize 下载、预处理并识别，行取自 tesseract 的文本行框
func (t *Tesseract) Recognize(ctx context.Context, imageURL string) (model.Overlay, error) {
	img, err := t.Fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return model.Overlay{}, err
	}
	if t.Filter != nil {
		img = t.Filter.Apply(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return model.Overlay{}, engineErr("encode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return model.Overlay{}, transportErr("recognize: %w", err)
	}
	return t.recognizeBytes(buf.Bytes())
}

func (t *Tesseract) recognizeBytes(data []byte) (model.Overlay, error) {
	c := t.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(t.Languages...); err != nil {
		return model.Overlay{}, engineErr("set languages: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return model.Overlay{}, engineErr("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return model.Overlay{}, engineErr("recognize text: %w", err)
	}

	out := model.Overlay{Text: strings.TrimSpace(text)}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		// 拿不到行框时只用整段文本
		t.Log.Warn("Failed to get text line boxes", zap.Error(err))
		return out, nil
	}
	for _, b := range boxes {
		if line := strings.TrimSpace(b.Word); line != "" {
			out.Lines = append(out.Lines, model.Line{Text: line, Order: len(out.Lines)})
		}
	}
	return out, nil
}
