package preprocess

import (
	"image"
	"image/color"
	"testing"
)

func grayImage(w, h int, fill func(x, y int) uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	return g
}

func TestUpscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 4))
	out := Upscale{Factor: 3}.Apply(src)
	if b := out.Bounds(); b.Dx() != 30 || b.Dy() != 12 {
		t.Fatalf("unexpected bounds %v", b)
	}
	if same := (Upscale{Factor: 1}).Apply(src); same != image.Image(src) {
		t.Fatalf("factor 1 should return the input")
	}
}

func TestGrayscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(2, 2, 4, 4))
	src.Set(2, 2, color.White)
	out, ok := Grayscale{}.Apply(src).(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray")
	}
	if out.Bounds().Min != (image.Point{}) || out.Bounds().Dx() != 2 {
		t.Fatalf("unexpected bounds %v", out.Bounds())
	}
	if out.GrayAt(0, 0).Y != 255 || out.GrayAt(1, 1).Y != 0 {
		t.Fatalf("unexpected pixels %v", out.Pix)
	}
}

func TestGrayscaleSubImage(t *testing.T) {
	full := grayImage(6, 4, func(x, y int) uint8 { return uint8(x * 40) })
	sub := full.SubImage(image.Rect(3, 1, 5, 3)).(*image.Gray)

	out := toGray(sub)
	if out == sub {
		t.Fatalf("sub-image with offset origin must be copied")
	}
	if out.Bounds() != image.Rect(0, 0, 2, 2) || out.Stride != 2 {
		t.Fatalf("unexpected layout %v stride %d", out.Bounds(), out.Stride)
	}
	for y := 0; y < 2; y++ {
		if out.GrayAt(0, y).Y != 120 || out.GrayAt(1, y).Y != 160 {
			t.Fatalf("row %d = %v", y, out.Pix[y*2:y*2+2])
		}
	}
}

func TestContrastStretch(t *testing.T) {
	src := grayImage(2, 1, func(x, _ int) uint8 {
		if x == 0 {
			return 50
		}
		return 150
	})
	out := Contrast{}.Apply(src).(*image.Gray)
	if out.Pix[0] != 0 || out.Pix[1] != 255 {
		t.Fatalf("stretch = %v, want [0 255]", out.Pix)
	}
}

func TestThresholdOtsu(t *testing.T) {
	// 两团明显分开的灰度，阈值应落在中间
	src := grayImage(10, 10, func(x, _ int) uint8 {
		if x < 5 {
			return 40 + uint8(x)
		}
		return 200 + uint8(x)
	})
	level := Otsu(src)
	if level < 44 || level >= 205 {
		t.Fatalf("Otsu() = %d, want between the two clusters", level)
	}
	out := Threshold{}.Apply(src).(*image.Gray)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			want := uint8(0)
			if x >= 5 {
				want = 255
			}
			if got := out.GrayAt(x, y).Y; got != want {
				t.Fatalf("pixel (%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
}

func TestThresholdFixedLevel(t *testing.T) {
	src := grayImage(3, 1, func(x, _ int) uint8 { return []uint8{10, 100, 200}[x] })
	out := Threshold{Level: 100}.Apply(src).(*image.Gray)
	if out.Pix[0] != 0 || out.Pix[1] != 0 || out.Pix[2] != 255 {
		t.Fatalf("unexpected pixels %v", out.Pix)
	}
}

func TestDefaultChain(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 4; x < 8; x++ {
		for y := 0; y < 8; y++ {
			src.Set(x, y, color.White)
		}
	}
	out := Default(2).Apply(src)
	g, ok := out.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", out)
	}
	if g.Bounds().Dx() != 16 {
		t.Fatalf("expected upscaled width 16, got %d", g.Bounds().Dx())
	}
	for _, p := range g.Pix {
		if p != 0 && p != 255 {
			t.Fatalf("expected binary output, found %d", p)
		}
	}
}
