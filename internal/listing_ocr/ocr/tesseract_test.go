package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"listing-ocr/internal/listing_ocr/preprocess"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

// renderPNG 画出几行黑字白底的截图
func renderPNG(t *testing.T, lines ...string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 30+30*len(lines)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for i, l := range lines {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(10, 30+30*i),
		}
		d.DrawString(l)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func serveBytes(t *testing.T, status int, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetcherDecodesPNG(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, renderPNG(t, "hello"))
	img, err := (&Fetcher{HTTPClient: srv.Client()}).Fetch(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if img.Bounds().Dx() != 320 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestFetcherErrorsAreTransport(t *testing.T) {
	for name, srv := range map[string]*httptest.Server{
		"status":    serveBytes(t, http.StatusNotFound, nil),
		"not image": serveBytes(t, http.StatusOK, []byte("definitely not an image")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := (&Fetcher{HTTPClient: srv.Client()}).Fetch(context.Background(), srv.URL)
			if !errors.Is(err, ErrTransport) {
				t.Fatalf("expected transport error, got %v", err)
			}
		})
	}
}

func TestTesseractRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	srv := serveBytes(t, http.StatusOK, renderPNG(t, "Sold Oct 11, 2025", "Hello Listing"))
	tess := NewTesseract(&Fetcher{HTTPClient: srv.Client()}, preprocess.Default(3), nil, nil)

	out, err := tess.Recognize(context.Background(), srv.URL+"/shot.png")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	got := strings.ToLower(out.Text)
	if !strings.Contains(got, "hello") || !strings.Contains(got, "listing") {
		t.Fatalf("unexpected OCR output: %q", out.Text)
	}
	if len(out.Lines) < 2 {
		t.Fatalf("expected line structure, got %+v", out.Lines)
	}
	for i, l := range out.Lines {
		if l.Order != i {
			t.Fatalf("line %d has order %d", i, l.Order)
		}
	}
}
