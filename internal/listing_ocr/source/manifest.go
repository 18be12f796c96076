package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// Manifest 从 JSON 清单读取截图列表，Location 可以是本地路径或 http(s) URL
type Manifest struct {
	Location   string
	HTTPClient *http.Client
	Log        *zap.Logger
}

type manifestImage struct {
	PublicID string `json:"publicId"`
	URL      string `json:"url"`
}

// List 支持平铺数组和 {"pages":[{"images":[...]}]} 两种结构
func (m *Manifest) List(ctx context.Context) ([]model.SourceImage, error) {
	log := logOrNop(m.Log)

	var data []byte
	var err error
	if strings.HasPrefix(m.Location, "http://") || strings.HasPrefix(m.Location, "https://") {
		data, err = getBody(ctx, clientOrDefault(m.HTTPClient), m.Location, nil, log)
	} else {
		data, err = os.ReadFile(m.Location)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", m.Location, err)
	}

	images, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", m.Location, err)
	}

	out := make([]model.SourceImage, 0, len(images))
	for _, img := range images {
		id, u := strings.TrimSpace(img.PublicID), strings.TrimSpace(img.URL)
		if id == "" || u == "" {
			continue
		}
		out = append(out, model.SourceImage{ImageURL: u, ItemID: id})
	}
	log.Debug("Loaded manifest", zap.String("location", m.Location), zap.Int("images", len(out)))
	return out, nil
}

func decodeManifest(data []byte) ([]manifestImage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var flat []manifestImage
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return nil, err
		}
		return flat, nil
	}

	var paged struct {
		Pages []struct {
			Images []manifestImage `json:"images"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(trimmed, &paged); err != nil {
		return nil, err
	}
	if paged.Pages == nil {
		return nil, fmt.Errorf("manifest has neither an image array nor pages")
	}
	var out []manifestImage
	for _, p := range paged.Pages {
		out = append(out, p.Images...)
	}
	return out, nil
}
