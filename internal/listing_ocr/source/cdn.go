package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// DefaultCDNBaseURL Cloudinary admin API
const DefaultCDNBaseURL = "https://api.cloudinary.com"

var cdnFormats = map[string]bool{"jpg": true, "png": true, "webp": true}

// CDN 通过 Cloudinary admin API 列出某个目录下的截图
type CDN struct {
	BaseURL    string
	CloudName  string
	APIKey     string
	APISecret  string
	Prefix     string
	MaxResults int
	MaxPages   int
	HTTPClient *http.Client
	Log        *zap.Logger
}

type cdnPage struct {
	Resources []struct {
		PublicID  string `json:"public_id"`
		Format    string `json:"format"`
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	} `json:"resources"`
	NextCursor string `json:"next_cursor"`
}

// List 按 next_cursor 翻页，最多 MaxPages 页
func (c *CDN) List(ctx context.Context) ([]model.SourceImage, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultCDNBaseURL
	}
	maxPages := max(c.MaxPages, 1)
	log := logOrNop(c.Log)

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.APIKey+":"+c.APISecret)))

	var out []model.SourceImage
	cursor := ""
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("type", "upload")
		q.Set("direction", "desc")
		if c.Prefix != "" {
			q.Set("prefix", c.Prefix)
		}
		if c.MaxResults > 0 {
			q.Set("max_results", strconv.Itoa(c.MaxResults))
		}
		if cursor != "" {
			q.Set("next_cursor", cursor)
		}
		endpoint := fmt.Sprintf("%s/v1_1/%s/resources/image?%s", strings.TrimRight(base, "/"), url.PathEscape(c.CloudName), q.Encode())

		body, err := getBody(ctx, clientOrDefault(c.HTTPClient), endpoint, header, log)
		if err != nil {
			return nil, fmt.Errorf("list cdn page %d: %w", page, err)
		}
		var p cdnPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode cdn page %d: %w", page, err)
		}

		for _, r := range p.Resources {
			if !cdnFormats[strings.ToLower(r.Format)] {
				continue
			}
			u := r.SecureURL
			if u == "" {
				u = r.URL
			}
			id := path.Base(r.PublicID)
			if u == "" || id == "" || id == "." || id == "/" {
				continue
			}
			out = append(out, model.SourceImage{ImageURL: u, ItemID: id})
		}
		log.Debug("Listed cdn page",
			zap.Int("page", page),
			zap.Int("resources", len(p.Resources)),
			zap.Bool("hasMore", p.NextCursor != ""),
		)

		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return out, nil
}
