package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/stretchr/testify/require"
)

// fakeInpainter 把标记像素填成未标记像素的均值，其余保持不变
type fakeInpainter struct {
	mu    sync.Mutex
	calls int
	err   error
	panic bool
}

func (f *fakeInpainter) Inpaint(src *RGB, mask *image.Gray, radius int, method Method) (*RGB, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.panic {
		panic("opencv exploded")
	}
	if f.err != nil {
		return nil, f.err
	}

	var sum [3]int
	n := 0
	for i, v := range mask.Pix {
		if v == 0 {
			sum[0] += int(src.Pix[i*3])
			sum[1] += int(src.Pix[i*3+1])
			sum[2] += int(src.Pix[i*3+2])
			n++
		}
	}
	var fill [3]uint8
	if n > 0 {
		fill = [3]uint8{uint8(sum[0] / n), uint8(sum[1] / n), uint8(sum[2] / n)}
	}

	out := src.Clone()
	for i, v := range mask.Pix {
		if v != 0 {
			copy(out.Pix[i*3:i*3+3], fill[:])
		}
	}
	return out, nil
}

func (f *fakeInpainter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memCache 内存结果缓存
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) GetResult(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memCache) SetResult(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func testInpaintConfig() *config.InpaintConfig {
	return &config.InpaintConfig{
		Radius:        3,
		MinRadius:     1,
		MaxRadius:     10,
		Method:        "telea",
		MaxConcurrent: 1,
		QueueTimeout:  50 * time.Millisecond,
	}
}

func newTestService(t *testing.T, in Inpainter, cache ResultCache) *InpaintService {
	t.Helper()
	s, err := NewInpaintService(testInpaintConfig(), in, cache)
	require.NoError(t, err)
	return s
}

func newTestPipeline(t *testing.T, in Inpainter) *Pipeline {
	t.Helper()
	cfg := config.Default()
	return NewPipeline(&cfg.Canvas, &cfg.Upload, newTestService(t, in, nil))
}

// gradient 每个像素颜色不同的测试图
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 0xff})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// grayRect 在 size 大小的掩码上标记矩形 r
func grayRect(size image.Point, r image.Rectangle) *image.Gray {
	m := image.NewGray(image.Rectangle{Max: size})
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetGray(x, y, color.Gray{Y: 0xff})
		}
	}
	return m
}
