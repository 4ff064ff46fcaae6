package service

import (
	"image"

	"golang.org/x/image/draw"
)

// BuildMask 将画布笔迹转换为与原图同尺寸的二值掩码 (0/255)
//
// 任意通道非零的像素都视为笔迹。画布分辨率与原图不同时，
// 先在画布分辨率二值化，再用最近邻放大，保证结果只含 0 和 255。
// raster 为 nil 时返回全零掩码。
func BuildMask(raster image.Image, source image.Point) *image.Gray {
	if raster == nil {
		return image.NewGray(image.Rectangle{Max: source})
	}

	bin := Binarize(raster)
	if bin.Rect.Size() == source {
		return bin
	}
	return ResizeNearest(bin, source)
}

// Binarize 在原分辨率上二值化笔迹
func Binarize(raster image.Image) *image.Gray {
	b := raster.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := raster.(type) {
	case *image.NRGBA:
		binarizePix(out, src.Pix, src.Stride, src.Rect)
	case *image.RGBA:
		binarizePix(out, src.Pix, src.Stride, src.Rect)
	case *image.Gray:
		// 单通道画布没有 alpha，亮度非零即为笔迹
		for y := 0; y < b.Dy(); y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+b.Dx()]
			dst := out.Pix[y*out.Stride:]
			for x, v := range row {
				if v != 0 {
					dst[x] = 0xff
				}
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := out.Pix[(y-b.Min.Y)*out.Stride:]
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, a := raster.At(x, y).RGBA()
				if r|g|bl|a != 0 {
					row[x-b.Min.X] = 0xff
				}
			}
		}
	}
	return out
}

func binarizePix(out *image.Gray, pix []uint8, stride int, rect image.Rectangle) {
	w := rect.Dx()
	for y := 0; y < rect.Dy(); y++ {
		src := pix[y*stride : y*stride+w*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x := 0; x < w; x++ {
			p := src[x*4 : x*4+4]
			if p[0]|p[1]|p[2]|p[3] != 0 {
				dst[x] = 0xff
			}
		}
	}
}

// ResizeNearest 最近邻缩放掩码，不会引入中间灰度
func ResizeNearest(mask *image.Gray, size image.Point) *image.Gray {
	out := image.NewGray(image.Rectangle{Max: size})
	draw.NearestNeighbor.Scale(out, out.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	return out
}

// MaskStats 统计标记像素数量与外接矩形
func MaskStats(mask *image.Gray) (int, image.Rectangle) {
	count := 0
	var box image.Rectangle
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := mask.Pix[(y-b.Min.Y)*mask.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[x-b.Min.X] == 0 {
				continue
			}
			count++
			box = box.Union(image.Rect(x, y, x+1, y+1))
		}
	}
	return count, box
}

// IsEmpty 掩码是否没有任何标记
func IsEmpty(mask *image.Gray) bool {
	for _, v := range mask.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}
