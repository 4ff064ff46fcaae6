package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
)

// DownloadFilename 下载结果时使用的固定文件名
const DownloadFilename = "watermark_removed.png"

// EncodePNG 将图像编码为 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	if rgb, ok := img.(*RGB); ok {
		img = rgb.ToNRGBA()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG 编码为 data URL，用于 JSON 内联展示
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodePNG 读取缓存或文件中的 PNG 结果
func DecodePNG(r io.Reader) (*RGB, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return FromImage(img), nil
}
