// Package opencv 基于 gocv 的修复实现，cgo 依赖限制在此包内
package opencv

import (
	"fmt"
	"image"

	"github.com/IoavM/marcasagua/service"
	"gocv.io/x/gocv"
)

// Inpainter 调用 OpenCV 的 cv::inpaint
type Inpainter struct {
	dilation int
}

// NewInpainter dilation 为掩码膨胀像素，0 表示不膨胀
func NewInpainter(dilation int) *Inpainter {
	return &Inpainter{dilation: dilation}
}

// Inpaint 通道顺序不影响逐通道修复，直接按 RGB 传入
func (in *Inpainter) Inpaint(src *service.RGB, mask *image.Gray, radius int, method service.Method) (*service.RGB, error) {
	flag, err := inpaintFlag(method)
	if err != nil {
		return nil, err
	}

	img, err := gocv.NewMatFromBytes(src.Height, src.Width, gocv.MatTypeCV8UC3, src.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap source: %w", err)
	}
	defer img.Close()

	m, err := maskMat(mask)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	if in.dilation > 0 {
		dilated := DilateMask(m, in.dilation)
		m.Close()
		m = dilated
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Inpaint(img, m, &dst, float32(radius), flag)
	if dst.Empty() {
		return nil, fmt.Errorf("inpaint produced an empty image")
	}
	if dst.Rows() != src.Height || dst.Cols() != src.Width || dst.Channels() != 3 {
		return nil, fmt.Errorf("inpaint produced %dx%dx%d", dst.Cols(), dst.Rows(), dst.Channels())
	}

	out := service.NewRGB(src.Width, src.Height)
	copy(out.Pix, dst.ToBytes())
	return out, nil
}

func inpaintFlag(method service.Method) (gocv.InpaintMethods, error) {
	switch method {
	case service.MethodTelea:
		return gocv.Telea, nil
	case service.MethodNS:
		return gocv.NS, nil
	default:
		return 0, fmt.Errorf("unknown inpaint method %q", method)
	}
}

func maskMat(mask *image.Gray) (gocv.Mat, error) {
	size := mask.Rect.Size()
	pix := mask.Pix
	if mask.Stride != size.X {
		pix = make([]uint8, 0, size.X*size.Y)
		for y := 0; y < size.Y; y++ {
			pix = append(pix, mask.Pix[y*mask.Stride:y*mask.Stride+size.X]...)
		}
	}
	m, err := gocv.NewMatFromBytes(size.Y, size.X, gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("wrap mask: %w", err)
	}
	return m, nil
}

// DilateMask 以椭圆核膨胀掩码，吞掉抗锯齿留下的水印光晕
func DilateMask(mask gocv.Mat, px int) gocv.Mat {
	size := 2*px + 1
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: size, Y: size})
	defer kernel.Close()

	dilated := gocv.NewMat()
	gocv.Dilate(mask, &dilated, kernel)

	// 保持二值
	gocv.Threshold(dilated, &dilated, 127, 255, gocv.ThresholdBinary)
	return dilated
}
