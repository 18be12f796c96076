package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"listing-ocr/internal/listing_ocr/model"
)

func TestCDNListPaginates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1_1/demo/resources/image" {
			http.NotFound(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("prefix") != "website-screenshots/" || q.Get("type") != "upload" || q.Get("direction") != "desc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch q.Get("next_cursor") {
		case "":
			fmt.Fprint(w, `{"resources":[
  {"public_id":"website-screenshots/a1","format":"png","secure_url":"https://cdn.example/a1.png"},
  {"public_id":"website-screenshots/doc","format":"pdf","secure_url":"https://cdn.example/doc.pdf"}
],"next_cursor":"c2"}`)
		case "c2":
			fmt.Fprint(w, `{"resources":[
  {"public_id":"website-screenshots/b2","format":"WEBP","secure_url":"https://cdn.example/b2.webp"}
]}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	cdn := &CDN{
		BaseURL:    srv.URL,
		CloudName:  "demo",
		APIKey:     "key",
		APISecret:  "secret",
		Prefix:     "website-screenshots/",
		MaxResults: 10,
		MaxPages:   5,
		HTTPClient: srv.Client(),
	}
	items, err := cdn.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []model.SourceImage{
		{ImageURL: "https://cdn.example/a1.png", ItemID: "a1"},
		{ImageURL: "https://cdn.example/b2.webp", ItemID: "b2"},
	}
	if len(items) != len(want) || items[0] != want[0] || items[1] != want[1] {
		t.Fatalf("List() = %+v, want %+v", items, want)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}

	cdn.MaxPages = 1
	items, err = cdn.List(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("MaxPages=1: items=%+v err=%v", items, err)
	}
}

func TestCDNListErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid api_key"}}`)
	}))
	defer srv.Close()

	_, err := (&CDN{BaseURL: srv.URL, CloudName: "demo", HTTPClient: srv.Client()}).List(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}
}

const galleryPage = `<!doctype html><html><body>
<div class="grid">
  <div class="gallery-item card" data-id="item001"><a href="#"><img src="/img/item001.png" alt=""></a></div>
  <div class="gallery-item" data-id="item002"><img data-src="https://cdn.example/item002.jpg"></div>
  <div class="gallery-item" data-id="item003"></div>
  <div class="gallery-item" data-id="item001"><img src="/img/again.png"></div>
  <div class="other" data-id="ignored"><img src="/img/x.png"></div>
</div>
</body></html>`

func TestGalleryList(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
		switch page {
		case "1":
			fmt.Fprint(w, galleryPage)
		case "2":
			fmt.Fprint(w, `<div class="gallery-item" data-id="item004"><img src="img/item004.webp"></div>`)
		default:
			fmt.Fprint(w, `<html><body><p>No more screenshots</p></body></html>`)
		}
	}))
	defer srv.Close()

	g := &Gallery{URL: srv.URL + "/sales/", MaxPages: 10, HTTPClient: srv.Client()}
	items, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []model.SourceImage{
		{ImageURL: srv.URL + "/img/item001.png", ItemID: "item001"},
		{ImageURL: "https://cdn.example/item002.jpg", ItemID: "item002"},
		{ImageURL: srv.URL + "/sales/img/item004.webp", ItemID: "item004"},
	}
	if len(items) != len(want) {
		t.Fatalf("List() = %+v, want %+v", items, want)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Fatalf("items[%d] = %+v, want %+v", i, items[i], want[i])
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(pages, ",") != "1,2,3" {
		t.Fatalf("should stop at the first empty page, fetched %v", pages)
	}
}

func TestGalleryFallsBackToDataID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div data-id="itemA"><img src="https://cdn.example/a.png"></div>`)
	}))
	defer srv.Close()

	items, err := (&Gallery{URL: srv.URL, MaxPages: 1, HTTPClient: srv.Client()}).List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ItemID != "itemA" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestManifestShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"flat", `[{"publicId":"a","url":"https://cdn.example/a.png"},{"publicId":"","url":"x"},{"publicId":"b","url":"https://cdn.example/b.png"}]`, []string{"a", "b"}, false},
		{"paged", `{"pages":[{"images":[{"publicId":"a","url":"u/a"}]},{"images":[]},{"images":[{"publicId":"c","url":"u/c"}]}]}`, []string{"a", "c"}, false},
		{"unknown object", `{"images":[]}`, nil, true},
		{"broken", `[{`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			items, err := (&Manifest{Location: path}).List(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var ids []string
			for _, it := range items {
				ids = append(ids, it.ItemID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestManifestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"publicId":"a","url":"https://cdn.example/a.png"}]`)
	}))
	defer srv.Close()

	items, err := (&Manifest{Location: srv.URL + "/eBaySales.json", HTTPClient: srv.Client()}).List(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("items=%+v err=%v", items, err)
	}
}

type flakyLister struct {
	failures int
	calls    int
}

func (f *flakyLister) List(context.Context) ([]model.SourceImage, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("temporary outage")
	}
	return []model.SourceImage{{ItemID: "a"}}, nil
}

func TestWithRetry(t *testing.T) {
	f := &flakyLister{failures: 2}
	items, err := WithRetry(f, 3, time.Millisecond, nil).List(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("items=%+v err=%v", items, err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}

	f = &flakyLister{failures: 5}
	_, err = WithRetry(f, 3, time.Millisecond, nil).List(context.Background())
	if err == nil || !strings.Contains(err.Error(), "temporary outage") {
		t.Fatalf("expected final error, got %v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &flakyLister{failures: 5}
	_, err := WithRetry(f, 3, time.Hour, nil).List(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", f.calls)
	}
}

func TestRetryDelay(t *testing.T) {
	for n, want := range map[int]time.Duration{1: 15 * time.Second, 2: 30 * time.Second, 3: 60 * time.Second} {
		if got := retryDelay(15*time.Second, n); got != want {
			t.Fatalf("retryDelay(%d) = %v, want %v", n, got, want)
		}
	}
}
