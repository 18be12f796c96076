package preprocess

import (
	"image"

	"golang.org/x/image/draw"
)

// Filter 对图片做一次变换，返回新图片，不修改输入
type Filter interface {
	Apply(img image.Image) image.Image
}

// Chain 依次执行的一组 Filter
type Chain []Filter

// Apply 按顺序执行
func (c Chain) Apply(img image.Image) image.Image {
	for _, f := range c {
		img = f.Apply(img)
	}
	return img
}

// Default 截图识别前的默认处理：放大、灰度、拉伸对比度、二值化
func Default(scale int) Chain {
	return Chain{Upscale{Factor: scale}, Grayscale{}, Contrast{}, Threshold{}}
}

// Upscale 整数倍放大，小字号截图放大后识别率明显更高
type Upscale struct {
	Factor int
}

func (u Upscale) Apply(img image.Image) image.Image {
	if u.Factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*u.Factor, b.Dy()*u.Factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Grayscale 转灰度
type Grayscale struct{}

func (Grayscale) Apply(img image.Image) image.Image {
	return toGray(img)
}

// Contrast 把灰度范围线性拉伸到 0..255
type Contrast struct{}

func (Contrast) Apply(img image.Image) image.Image {
	g := toGray(img)
	lo, hi := uint8(255), uint8(0)
	for _, p := range g.Pix {
		lo = min(lo, p)
		hi = max(hi, p)
	}
	if hi <= lo || (lo == 0 && hi == 255) {
		return g
	}
	out := image.NewGray(g.Rect)
	span := int(hi) - int(lo)
	for i, p := range g.Pix {
		out.Pix[i] = uint8((int(p) - int(lo)) * 255 / span)
	}
	return out
}

// Threshold 二值化；Level 为 0 时用 Otsu 自动取阈值
type Threshold struct {
	Level uint8
}

func (t Threshold) Apply(img image.Image) image.Image {
	g := toGray(img)
	level := t.Level
	if level == 0 {
		level = Otsu(g)
	}
	out := image.NewGray(g.Rect)
	for i, p := range g.Pix {
		if p > level {
			out.Pix[i] = 255
		}
	}
	return out
}

// Otsu 使类间方差最大的阈值
func Otsu(g *image.Gray) uint8 {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	if total == 0 {
		return 127
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		wB         int
		level      uint8
	)
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// toGray 统一成原点在 (0,0)、stride 等于宽度的 *image.Gray，方便直接遍历 Pix
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) && g.Stride == g.Rect.Dx() {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
