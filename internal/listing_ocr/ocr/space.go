package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/model"
)

// DefaultSpaceEndpoint OCR.space 的图片 URL 接口
const DefaultSpaceEndpoint = "https://api.ocr.space/parse/imageurl"

// Space OCR.space HTTP 客户端
type Space struct {
	Endpoint   string
	APIKey     string
	Language   string
	Engine     int // OCREngine 参数，0 表示使用服务端默认
	HTTPClient *http.Client
	Log        *zap.Logger
}

// NewSpace 创建 OCR.space 客户端
func NewSpace(endpoint, apiKey, language string, engine int, httpClient *http.Client, log *zap.Logger) *Space {
	if endpoint == "" {
		endpoint = DefaultSpaceEndpoint
	}
	if language == "" {
		language = "eng"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Space{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Language:   language,
		Engine:     engine,
		HTTPClient: httpClient,
		Log:        log,
	}
}

type spaceResponse struct {
	ParsedResults []struct {
		ParsedText  string `json:"ParsedText"`
		TextOverlay struct {
			Lines []struct {
				LineText string `json:"LineText"`
			} `json:"Lines"`
		} `json:"TextOverlay"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// Recognize 调用 parse/imageurl，要求返回行结构；行顺序即返回顺序
func (s *Space) Recognize(ctx context.Context, imageURL string) (model.Overlay, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return model.Overlay{}, transportErr("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("apikey", s.APIKey)
	q.Set("url", imageURL)
	q.Set("language", s.Language)
	q.Set("isOverlayRequired", "true")
	if s.Engine > 0 {
		q.Set("OCREngine", fmt.Sprint(s.Engine))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Overlay{}, transportErr("build request: %w", err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return model.Overlay{}, transportErr("request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			s.Log.Warn("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Overlay{}, transportErr("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Overlay{}, transportErr("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed spaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return model.Overlay{}, transportErr("decode body: %w", err)
	}
	if parsed.OCRExitCode != 1 || parsed.IsErroredOnProcessing {
		return model.Overlay{}, engineErr("exit code %d: %s", parsed.OCRExitCode, errorMessage(parsed.ErrorMessage))
	}

	var out model.Overlay
	var texts []string
	for _, r := range parsed.ParsedResults {
		texts = append(texts, r.ParsedText)
		for _, l := range r.TextOverlay.Lines {
			out.Lines = append(out.Lines, model.Line{Text: l.LineText, Order: len(out.Lines)})
		}
	}
	out.Text = strings.TrimSpace(strings.Join(texts, "\n"))

	s.Log.Debug("OCR.space recognized image",
		zap.String("imageURL", imageURL),
		zap.Int("lines", len(out.Lines)),
		zap.Int("textSize", len(out.Text)),
	)
	return out, nil
}

// errorMessage ErrorMessage 可能是字符串、字符串数组或 null
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "unknown error"
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return strings.Join(many, "; ")
	}
	return string(raw)
}
