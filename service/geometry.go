package service

import (
	"image"

	"github.com/disintegration/imaging"
)

// Geometry 描述原图与显示画布之间的映射
// ScaleX = Display.X / Source.X，ScaleY = Display.Y / Source.Y，均不大于 1
type Geometry struct {
	Source  image.Point
	Display image.Point
	ScaleX  float64
	ScaleY  float64
}

// FitDisplay 计算限制在 maxW x maxH 内且保持宽高比的显示尺寸
func FitDisplay(source image.Point, maxW, maxH int) Geometry {
	g := Geometry{Source: source, Display: source, ScaleX: 1, ScaleY: 1}
	if source.X <= maxW && source.Y <= maxH {
		return g
	}

	sw, sh := int64(source.X), int64(source.Y)
	cw, ch := int64(maxW), int64(maxH)

	var dw, dh int64
	if sw*ch >= sh*cw {
		// 相对更宽，宽度受限
		dw = cw
		dh = roundDiv(sh*cw, sw)
	} else {
		dh = ch
		dw = roundDiv(sw*ch, sh)
	}
	dw = max(dw, 1)
	dh = max(dh, 1)

	g.Display = image.Point{X: int(dw), Y: int(dh)}
	g.ScaleX = float64(dw) / float64(sw)
	g.ScaleY = float64(dh) / float64(sh)
	return g
}

func roundDiv(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}

// Resized 显示尺寸是否与原图不同
func (g Geometry) Resized() bool {
	return g.Display != g.Source
}

// ToSource 将画布坐标映射回原图坐标
func (g Geometry) ToSource(p image.Point) image.Point {
	return image.Point{
		X: mapAxis(p.X, g.Display.X, g.Source.X, false),
		Y: mapAxis(p.Y, g.Display.Y, g.Source.Y, false),
	}
}

// ToSourceRect 将画布上的矩形映射为覆盖它的原图矩形
func (g Geometry) ToSourceRect(r image.Rectangle) image.Rectangle {
	r = r.Canon()
	return image.Rect(
		mapAxis(r.Min.X, g.Display.X, g.Source.X, false),
		mapAxis(r.Min.Y, g.Display.Y, g.Source.Y, false),
		mapAxis(r.Max.X, g.Display.X, g.Source.X, true),
		mapAxis(r.Max.Y, g.Display.Y, g.Source.Y, true),
	)
}

func mapAxis(v, from, to int, ceil bool) int {
	if from <= 0 {
		return 0
	}
	v = min(max(v, 0), from)
	num := int64(v) * int64(to)
	out := num / int64(from)
	if ceil && num%int64(from) != 0 {
		out++
	}
	return int(out)
}

// PrepareDisplay 生成用于绘制的显示图；未超出上限时直接返回原图
func PrepareDisplay(src *RGB, maxW, maxH int) (*RGB, Geometry) {
	g := FitDisplay(src.Size(), maxW, maxH)
	if !g.Resized() {
		return src, g
	}

	resized := imaging.Resize(src.ToNRGBA(), g.Display.X, g.Display.Y, imaging.Linear)
	return FromImage(resized), g
}
