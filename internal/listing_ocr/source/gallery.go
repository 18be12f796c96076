package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"listing-ocr/internal/listing_ocr/model"
)

// Gallery 解析公开的截图画廊页面 {URL}?page=N
type Gallery struct {
	URL        string
	MaxPages   int
	HTTPClient *http.Client
	Log        *zap.Logger
}

// List 逐页抓取，遇到空页或达到 MaxPages 停止；同一 data-id 只取第一次出现
func (g *Gallery) List(ctx context.Context) ([]model.SourceImage, error) {
	base, err := url.Parse(g.URL)
	if err != nil {
		return nil, fmt.Errorf("parse gallery url: %w", err)
	}
	maxPages := max(g.MaxPages, 1)
	log := logOrNop(g.Log)

	seen := make(map[string]bool)
	var out []model.SourceImage
	for page := 1; page <= maxPages; page++ {
		pageURL := *base
		q := pageURL.Query()
		q.Set("page", strconv.Itoa(page))
		pageURL.RawQuery = q.Encode()

		body, err := getBody(ctx, clientOrDefault(g.HTTPClient), pageURL.String(), nil, log)
		if err != nil {
			return nil, fmt.Errorf("fetch gallery page %d: %w", page, err)
		}
		items, err := parseGallery(body, &pageURL)
		if err != nil {
			return nil, fmt.Errorf("parse gallery page %d: %w", page, err)
		}
		log.Debug("Parsed gallery page", zap.Int("page", page), zap.Int("items", len(items)))
		if len(items) == 0 {
			break
		}
		for _, it := range items {
			if seen[it.ItemID] {
				continue
			}
			seen[it.ItemID] = true
			out = append(out, it)
		}
	}
	return out, nil
}

// parseGallery 先找 div.gallery-item[data-id]，没有时退回到任意 div[data-id]
func parseGallery(body []byte, pageURL *url.URL) ([]model.SourceImage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var tagged, plain []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div {
			if _, ok := attr(n, "data-id"); ok {
				if hasClass(n, "gallery-item") {
					tagged = append(tagged, n)
				} else {
					plain = append(plain, n)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	nodes := tagged
	if len(nodes) == 0 {
		nodes = plain
	}
	var out []model.SourceImage
	for _, n := range nodes {
		id, _ := attr(n, "data-id")
		id = strings.TrimSpace(id)
		src := firstImage(n)
		if id == "" || src == "" {
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		out = append(out, model.SourceImage{ImageURL: pageURL.ResolveReference(ref).String(), ItemID: id})
	}
	return out, nil
}

// firstImage 第一个 img 的 src（懒加载时是 data-src）
func firstImage(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		for _, key := range []string{"src", "data-src"} {
			if v, ok := attr(n, key); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
				return strings.TrimSpace(v)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if src := firstImage(c); src != "" {
			return src
		}
	}
	return ""
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
