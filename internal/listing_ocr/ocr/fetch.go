package ocr

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	_ "golang.org/x/image/webp"
)

// maxImageBytes 单张截图的下载上限
const maxImageBytes = 32 << 20

// Fetcher 下载并解码图片，本地 OCR 使用
type Fetcher struct {
	HTTPClient *http.Client
}

// Fetch 下载图片并解码（png / jpeg / webp）
func (f *Fetcher) Fetch(ctx context.Context, imageURL string) (image.Image, error) {
	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, transportErr("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportErr("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportErr("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, transportErr("read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, transportErr("decode image: %w", err)
	}
	return img, nil
}
