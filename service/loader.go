package service

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Format 允许上传的图片格式
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// FormatFromFilename 根据扩展名判断格式，其余类型在边界处拒绝
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(name))
	}
}

// DecodeImage 解码上传的字节为三通道原图，并按 EXIF 方向校正。
// maxPixels 大于 0 时，宽高乘积超过它的图片在解码前被拒绝
func DecodeImage(data []byte, declared Format, maxPixels int) (*RGB, error) {
	if declared != FormatJPEG && declared != FormatPNG {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, declared)
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{Err: fmt.Errorf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, maxPixels)}
	}
	if Format(name) != FormatJPEG && Format(name) != FormatPNG {
		return nil, &DecodeError{Err: fmt.Errorf("content is %s, not jpeg or png", name)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy())}
	}

	return FromImage(img), nil
}
