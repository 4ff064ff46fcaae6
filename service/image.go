package service

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// RGB 三通道 8 位图像，像素按行存储为 R,G,B
type RGB struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewRGB 创建指定尺寸的黑色图像
func NewRGB(width, height int) *RGB {
	return &RGB{
		Pix:    make([]uint8, width*height*3),
		Width:  width,
		Height: height,
	}
}

// FromImage 将任意图像转换为三通道，直接丢弃 alpha
func FromImage(img image.Image) *RGB {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	out := NewRGB(w, h)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := out.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

func (m *RGB) ColorModel() color.Model { return color.RGBAModel }

func (m *RGB) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	i := m.offset(x, y)
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

func (m *RGB) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return
	}
	i := m.offset(x, y)
	r, g, b, _ := c.RGBA()
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = uint8(r>>8), uint8(g>>8), uint8(b>>8)
}

// Size 返回宽高
func (m *RGB) Size() image.Point { return image.Point{X: m.Width, Y: m.Height} }

func (m *RGB) offset(x, y int) int { return (y*m.Width + x) * 3 }

// Clone 深拷贝
func (m *RGB) Clone() *RGB {
	out := &RGB{Pix: make([]uint8, len(m.Pix)), Width: m.Width, Height: m.Height}
	copy(out.Pix, m.Pix)
	return out
}

// ToNRGBA 转换为不透明的 NRGBA，供缩放与编码使用
func (m *RGB) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(m.Bounds())
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+4 {
		out.Pix[j+0] = m.Pix[i+0]
		out.Pix[j+1] = m.Pix[i+1]
		out.Pix[j+2] = m.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out
}
