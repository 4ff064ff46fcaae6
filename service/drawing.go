package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/vector"
	"gopkg.in/yaml.v3"
)

// DrawingSurface 绘图面板，每次笔迹更新时返回四通道画布
//
// Capture 在会话锁内调用，g 为当前图片的几何信息。
// 返回的画布必须与显示尺寸或原图尺寸一致。
type DrawingSurface interface {
	Capture(g Geometry) (image.Image, error)
}

// CheckCanvasSize 笔迹画布只允许显示尺寸或原图尺寸
func CheckCanvasSize(size image.Point, g Geometry) error {
	if size == g.Display || size == g.Source {
		return nil
	}
	return fmt.Errorf("%w: stroke canvas is %dx%d, expected %dx%d or %dx%d", ErrInvalidParams,
		size.X, size.Y, g.Display.X, g.Display.Y, g.Source.X, g.Source.Y)
}

// RasterSurface 浏览器画布导出的 PNG，未绘制处透明；
// 也接受不透明的黑白掩码，此时按亮度判断
type RasterSurface struct {
	Data []byte
}

func (r RasterSurface) Capture(g Geometry) (image.Image, error) {
	if len(r.Data) == 0 {
		return nil, nil
	}

	// 先读尺寸，不合法时不解码
	cfg, _, err := image.DecodeConfig(bytes.NewReader(r.Data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := CheckCanvasSize(image.Pt(cfg.Width, cfg.Height), g); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(r.Data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if isOpaque(img) {
		return toGray(img), nil
	}
	return img, nil
}

func isOpaque(img image.Image) bool {
	o, ok := img.(interface{ Opaque() bool })
	return ok && o.Opaque()
}

// toGray 按亮度转为单通道，黑色即未标记
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rectangle{Max: b.Size()})
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

// Stroke kinds
const (
	StrokePath   = "path"
	StrokeRect   = "rect"
	StrokeCircle = "circle"
)

// StrokeScript 以画布坐标描述的笔迹，可由 YAML 或 JSON 给出
type StrokeScript struct {
	Canvas  *CanvasSize `yaml:"canvas,omitempty" json:"canvas,omitempty"`
	Strokes []Stroke    `yaml:"strokes" json:"strokes"`
}

type CanvasSize struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Stroke path 为自由笔画（圆头），rect 取 Points[0] 与 Points[1] 为对角，
// circle 以 Points[0] 为圆心、Radius 为半径填充
type Stroke struct {
	Kind   string       `yaml:"kind,omitempty" json:"kind,omitempty"`
	Width  float64      `yaml:"width,omitempty" json:"width,omitempty"`
	Color  string       `yaml:"color,omitempty" json:"color,omitempty"`
	Radius float64      `yaml:"radius,omitempty" json:"radius,omitempty"`
	Points [][2]float64 `yaml:"points" json:"points"`
}

// ParseStrokeScript 解析 YAML（JSON 亦可）
func ParseStrokeScript(data []byte) (*StrokeScript, error) {
	var script StrokeScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse stroke script: %w", err)
	}
	return &script, nil
}

// Validate 检查笔迹形状与画笔宽度范围
func (s *StrokeScript) Validate(minBrush, maxBrush float64) error {
	if s.Canvas != nil && (s.Canvas.Width <= 0 || s.Canvas.Height <= 0) {
		return fmt.Errorf("%w: canvas size %dx%d", ErrInvalidParams, s.Canvas.Width, s.Canvas.Height)
	}
	for i, st := range s.Strokes {
		switch st.kind() {
		case StrokePath:
			if len(st.Points) == 0 {
				return fmt.Errorf("%w: stroke %d has no points", ErrInvalidParams, i)
			}
			if st.Width != 0 && (st.Width < minBrush || st.Width > maxBrush) {
				return fmt.Errorf("%w: stroke %d width %g outside [%g, %g]", ErrInvalidParams, i, st.Width, minBrush, maxBrush)
			}
		case StrokeRect:
			if len(st.Points) != 2 {
				return fmt.Errorf("%w: rect %d needs 2 points", ErrInvalidParams, i)
			}
		case StrokeCircle:
			if len(st.Points) != 1 || st.Radius <= 0 {
				return fmt.Errorf("%w: circle %d needs a center and a positive radius", ErrInvalidParams, i)
			}
		default:
			return fmt.Errorf("%w: stroke %d has unknown kind %q", ErrInvalidParams, i, st.Kind)
		}
		if _, err := parseHexColor(st.Color); err != nil {
			return fmt.Errorf("%w: stroke %d: %v", ErrInvalidParams, i, err)
		}
	}
	return nil
}

func (st Stroke) kind() string {
	if st.Kind == "" {
		return StrokePath
	}
	return strings.ToLower(st.Kind)
}

// ScriptSurface 将笔迹脚本栅格化为画布，未指定 canvas 时使用显示尺寸
type ScriptSurface struct {
	Script     *StrokeScript
	BrushWidth float64
}

func (s ScriptSurface) Capture(g Geometry) (image.Image, error) {
	size := g.Display
	if s.Script.Canvas != nil {
		size = image.Point{X: s.Script.Canvas.Width, Y: s.Script.Canvas.Height}
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: canvas size %dx%d", ErrInvalidParams, size.X, size.Y)
	}
	if err := CheckCanvasSize(size, g); err != nil {
		return nil, err
	}
	return s.Script.Rasterize(size, s.BrushWidth)
}

// Rasterize 在透明画布上绘制所有笔迹
func (s *StrokeScript) Rasterize(size image.Point, brushWidth float64) (*image.NRGBA, error) {
	canvas := image.NewNRGBA(image.Rectangle{Max: size})
	z := vector.NewRasterizer(size.X, size.Y)

	for i, st := range s.Strokes {
		col, err := parseHexColor(st.Color)
		if err != nil {
			return nil, fmt.Errorf("%w: stroke %d: %v", ErrInvalidParams, i, err)
		}

		coverage := image.NewAlpha(canvas.Rect)
		switch st.kind() {
		case StrokePath:
			w := st.Width
			if w == 0 {
				w = brushWidth
			}
			drawPath(z, coverage, st.Points, w/2)
		case StrokeRect:
			a, b := st.Points[0], st.Points[1]
			x0, x1 := math.Min(a[0], b[0]), math.Max(a[0], b[0])
			y0, y1 := math.Min(a[1], b[1]), math.Max(a[1], b[1])
			fillPolygon(z, coverage, [][2]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}})
		case StrokeCircle:
			fillCircle(z, coverage, st.Points[0], st.Radius)
		default:
			return nil, fmt.Errorf("%w: stroke %d has unknown kind %q", ErrInvalidParams, i, st.Kind)
		}

		draw.DrawMask(canvas, canvas.Rect, image.NewUniform(col), image.Point{}, coverage, image.Point{}, draw.Over)
	}
	return canvas, nil
}

// drawPath 圆头圆角的折线：每个顶点一个圆，每段一个矩形
func drawPath(z *vector.Rasterizer, dst *image.Alpha, pts [][2]float64, r float64) {
	if r <= 0 {
		return
	}
	for i, p := range pts {
		fillCircle(z, dst, p, r)
		if i == 0 {
			continue
		}
		q := pts[i-1]
		dx, dy := p[0]-q[0], p[1]-q[1]
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		nx, ny := -dy/l*r, dx/l*r
		fillPolygon(z, dst, [][2]float64{
			{q[0] + nx, q[1] + ny},
			{p[0] + nx, p[1] + ny},
			{p[0] - nx, p[1] - ny},
			{q[0] - nx, q[1] - ny},
		})
	}
}

func fillPolygon(z *vector.Rasterizer, dst *image.Alpha, pts [][2]float64) {
	size := dst.Rect.Size()
	z.Reset(size.X, size.Y)
	z.MoveTo(float32(pts[0][0]), float32(pts[0][1]))
	for _, p := range pts[1:] {
		z.LineTo(float32(p[0]), float32(p[1]))
	}
	z.ClosePath()
	z.Draw(dst, dst.Rect, image.Opaque, image.Point{})
}

// 四段三次贝塞尔近似圆
const kappa = 0.5522847498

func fillCircle(z *vector.Rasterizer, dst *image.Alpha, c [2]float64, r float64) {
	size := dst.Rect.Size()
	z.Reset(size.X, size.Y)
	cx, cy, k := float32(c[0]), float32(c[1]), float32(r*kappa)
	rr := float32(r)
	z.MoveTo(cx+rr, cy)
	z.CubeTo(cx+rr, cy+k, cx+k, cy+rr, cx, cy+rr)
	z.CubeTo(cx-k, cy+rr, cx-rr, cy+k, cx-rr, cy)
	z.CubeTo(cx-rr, cy-k, cx-k, cy-rr, cx, cy-rr)
	z.CubeTo(cx+k, cy-rr, cx+rr, cy-k, cx+rr, cy)
	z.ClosePath()
	z.Draw(dst, dst.Rect, image.Opaque, image.Point{})
}

// parseHexColor 解析 #rgb / #rrggbb，空值为白色
func parseHexColor(s string) (color.NRGBA, error) {
	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(s) {
	case 0:
		return white, nil
	case 3:
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	case 6:
	default:
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
