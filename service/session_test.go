package service

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/IoavM/marcasagua/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateEmpty, StateImageLoaded, true},
		{StateEmpty, StateDrawing, false},
		{StateEmpty, StateProcessing, false},
		{StateImageLoaded, StateDrawing, true},
		{StateImageLoaded, StateProcessing, true},
		{StateDrawing, StateMaskReady, true},
		{StateDrawing, StateProcessing, false},
		{StateMaskReady, StateProcessing, true},
		{StateProcessing, StateImageLoaded, false},
		{StateProcessing, StateDrawing, false},
		{StateProcessing, StateResult, true},
		{StateProcessing, StateError, true},
		{StateResult, StateDrawing, true},
		{StateError, StateProcessing, true},
		{StateError, StateImageLoaded, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionRequiresImage(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("s1")
	assert.Equal(t, StateEmpty, sess.State())

	_, err := p.ApplyStrokes(sess, RasterSurface{})
	assert.ErrorIs(t, err, ErrNoImage)
	_, err = p.Process(context.Background(), sess, p.Inpaint().Defaults())
	assert.ErrorIs(t, err, ErrNoImage)
	_, err = sess.Result()
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Equal(t, StateEmpty, sess.State())
}

func TestLoadImageRejectsBadUpload(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("s1")

	_, err := p.LoadImage(sess, []byte("garbage"), FormatPNG)
	var de *DecodeError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, StateEmpty, sess.State())
}

// 1000x700 的图显示为 800x560，画布上 (400,280) 半径 60 的圆
// 对应原图 (500,350) 半径 75 的圆
func TestPipelineEndToEnd(t *testing.T) {
	fake := &fakeInpainter{}
	p := newTestPipeline(t, fake)
	sess := NewSession("e2e")

	src := gradient(1000, 700)
	geom, err := p.LoadImage(sess, pngBytes(t, src), FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(800, 560), geom.Display)
	assert.Equal(t, StateImageLoaded, sess.State())

	snap := sess.Snapshot()
	assert.Equal(t, image.Pt(1000, 700), snap.Source.Size())
	assert.Equal(t, image.Pt(800, 560), snap.Display.Size())

	surface, err := p.NewScriptSurface(&StrokeScript{Strokes: []Stroke{
		{Kind: StrokeCircle, Radius: 60, Points: [][2]float64{{400, 280}}},
	}})
	require.NoError(t, err)

	mask, err := p.ApplyStrokes(sess, surface)
	require.NoError(t, err)
	assert.Equal(t, StateMaskReady, sess.State())
	require.Equal(t, image.Pt(1000, 700), mask.Rect.Size())
	assert.Equal(t, uint8(255), mask.GrayAt(500, 350).Y)

	for y := 0; y < 700; y++ {
		for x := 0; x < 1000; x++ {
			if mask.GrayAt(x, y).Y == 0 {
				continue
			}
			d := math.Hypot(float64(x)+0.5-500, float64(y)+0.5-350)
			require.LessOrEqual(t, d, 78.0, "marked pixel (%d,%d) outside the circle", x, y)
		}
	}
	count, _ := MaskStats(mask)
	assert.InEpsilon(t, math.Pi*75*75, float64(count), 0.05)

	result, err := p.Process(context.Background(), sess, InpaintParams{Radius: 3, Method: MethodTelea})
	require.NoError(t, err)
	assert.Equal(t, StateResult, sess.State())
	assert.Equal(t, 1, fake.Calls())
	require.Equal(t, image.Pt(1000, 700), result.Size())

	source := snap.Source
	for i, v := range mask.Pix {
		if v == 0 {
			require.Equal(t, source.Pix[i*3:i*3+3], result.Pix[i*3:i*3+3], "pixel %d", i)
		}
	}

	got, err := sess.Result()
	require.NoError(t, err)
	assert.Same(t, result, got)
}

func TestPipelineDeterministic(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	upload := pngBytes(t, gradient(640, 900))
	script := &StrokeScript{Strokes: []Stroke{
		{Width: 12, Points: [][2]float64{{30, 40}, {200, 90}, {260, 300}}},
		{Kind: StrokeRect, Points: [][2]float64{{300, 400}, {380, 450}}},
	}}

	run := func() (*image.Gray, []byte) {
		sess := NewSession("det")
		_, err := p.LoadImage(sess, upload, FormatPNG)
		require.NoError(t, err)
		surface, err := p.NewScriptSurface(script)
		require.NoError(t, err)
		mask, err := p.ApplyStrokes(sess, surface)
		require.NoError(t, err)
		out, err := p.Process(context.Background(), sess, p.Inpaint().Defaults())
		require.NoError(t, err)
		data, err := EncodePNG(out)
		require.NoError(t, err)
		return mask, data
	}

	mask1, png1 := run()
	mask2, png2 := run()
	assert.Equal(t, mask1.Pix, mask2.Pix)
	assert.Equal(t, png1, png2)
}

func TestProcessWithoutStrokesReturnsSource(t *testing.T) {
	fake := &fakeInpainter{}
	p := newTestPipeline(t, fake)
	sess := NewSession("plain")

	_, err := p.LoadImage(sess, jpegBytes(t, gradient(120, 80)), FormatJPEG)
	require.NoError(t, err)

	out, err := p.Process(context.Background(), sess, p.Inpaint().Defaults())
	require.NoError(t, err)
	assert.Equal(t, sess.Snapshot().Source.Pix, out.Pix)
	assert.Zero(t, fake.Calls())
	assert.Equal(t, StateResult, sess.State())
}

func TestProcessFailureThenRetry(t *testing.T) {
	fake := &fakeInpainter{err: errors.New("out of memory")}
	p := newTestPipeline(t, fake)
	sess := NewSession("retry")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(50, 50)), FormatPNG)
	require.NoError(t, err)
	_, err = p.ApplyStrokes(sess, RasterSurface{Data: pngBytes(t, grayRect(image.Pt(50, 50), image.Rect(10, 10, 20, 20)))})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), sess, p.Inpaint().Defaults())
	var pe *ProcessingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, StateError, sess.State())
	assert.Error(t, sess.Snapshot().LastErr)
	_, err = sess.Result()
	assert.ErrorIs(t, err, ErrNoResult)

	// 图片与掩码保留，可直接重试
	assert.NotNil(t, sess.Snapshot().Mask)
	fake.err = nil
	_, err = p.Process(context.Background(), sess, p.Inpaint().Defaults())
	require.NoError(t, err)
	assert.Equal(t, StateResult, sess.State())
	assert.NoError(t, sess.Snapshot().LastErr)
}

func TestFailedCaptureKeepsDrawing(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("draw")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(50, 50)), FormatPNG)
	require.NoError(t, err)

	_, err = p.ApplyStrokes(sess, RasterSurface{Data: []byte("bad")})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StateDrawing, sess.State())

	_, err = p.Process(context.Background(), sess, p.Inpaint().Defaults())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = p.ApplyStrokes(sess, RasterSurface{})
	require.NoError(t, err)
	assert.Equal(t, StateMaskReady, sess.State())
}

func TestReuploadClearsMaskAndResult(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("again")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(50, 50)), FormatPNG)
	require.NoError(t, err)
	_, err = p.ApplyStrokes(sess, RasterSurface{Data: pngBytes(t, grayRect(image.Pt(50, 50), image.Rect(0, 0, 5, 5)))})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), sess, p.Inpaint().Defaults())
	require.NoError(t, err)

	other := image.NewNRGBA(image.Rect(0, 0, 30, 30))
	other.SetNRGBA(1, 1, color.NRGBA{R: 9, A: 255})
	_, err = p.LoadImage(sess, pngBytes(t, other), FormatPNG)
	require.NoError(t, err)

	snap := sess.Snapshot()
	assert.Equal(t, StateImageLoaded, snap.State)
	assert.Nil(t, snap.Mask)
	assert.Nil(t, snap.Result)
	assert.Equal(t, image.Pt(30, 30), snap.Source.Size())
	_, err = sess.Result()
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestRasterSurfaceAtDisplaySizeMapsToSource(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("raster")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(1000, 700)), FormatPNG)
	require.NoError(t, err)

	canvas := image.NewNRGBA(image.Rect(0, 0, 800, 560))
	for y := 100; y < 300; y++ {
		for x := 200; x < 400; x++ {
			canvas.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	mask, err := p.ApplyStrokes(sess, RasterSurface{Data: pngBytes(t, canvas)})
	require.NoError(t, err)

	_, box := MaskStats(mask)
	assert.Equal(t, image.Rect(250, 125, 500, 375), box)
}

func TestNewScriptSurfaceValidates(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	_, err := p.NewScriptSurface(&StrokeScript{Strokes: []Stroke{{Width: 500, Points: [][2]float64{{1, 1}}}}})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestTrySnapshotDoesNotWaitForProcessing(t *testing.T) {
	in := &blockingInpainter{started: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, in)
	sess := NewSession("busy")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(20, 20)), FormatPNG)
	require.NoError(t, err)
	_, err = p.ApplyStrokes(sess, RasterSurface{Data: pngBytes(t, grayRect(image.Pt(20, 20), image.Rect(2, 2, 6, 6)))})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), sess, p.Inpaint().Defaults())
		done <- err
	}()
	<-in.started

	snap, ok := sess.TrySnapshot()
	assert.False(t, ok)
	assert.Equal(t, StateProcessing, snap.State)
	assert.Equal(t, StateProcessing, sess.State())

	close(in.release)
	require.NoError(t, <-done)

	snap, ok = sess.TrySnapshot()
	assert.True(t, ok)
	assert.Equal(t, StateResult, snap.State)
	assert.NotNil(t, snap.Result)
}

// fixedSurface 无视几何信息，总是返回给定画布
type fixedSurface struct{ img image.Image }

func (f fixedSurface) Capture(Geometry) (image.Image, error) { return f.img, nil }

func TestApplyStrokesRejectsForeignCanvas(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("foreign")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(1000, 700)), FormatPNG)
	require.NoError(t, err)

	small := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	small.SetNRGBA(10, 10, color.NRGBA{R: 255, A: 255})

	for name, surface := range map[string]DrawingSurface{
		"raster png":     RasterSurface{Data: pngBytes(t, small)},
		"custom surface": fixedSurface{img: small},
		"script canvas":  ScriptSurface{Script: &StrokeScript{Canvas: &CanvasSize{Width: 20000, Height: 20000}}, BrushWidth: 10},
	} {
		mask, err := p.ApplyStrokes(sess, surface)
		assert.ErrorIs(t, err, ErrInvalidParams, name)
		assert.Nil(t, mask, name)
		assert.Nil(t, sess.Snapshot().Mask, name)
	}

	// 原图尺寸的画布直接使用
	full := image.NewNRGBA(image.Rect(0, 0, 1000, 700))
	full.SetNRGBA(999, 699, color.NRGBA{G: 1, A: 255})
	mask, err := p.ApplyStrokes(sess, fixedSurface{img: full})
	require.NoError(t, err)
	count, box := MaskStats(mask)
	assert.Equal(t, 1, count)
	assert.Equal(t, image.Rect(999, 699, 1000, 700), box)
}

func TestScriptSurfaceFollowsReupload(t *testing.T) {
	p := newTestPipeline(t, &fakeInpainter{})
	sess := NewSession("reupload")

	_, err := p.LoadImage(sess, pngBytes(t, gradient(1000, 700)), FormatPNG)
	require.NoError(t, err)

	surface, err := p.NewScriptSurface(&StrokeScript{Strokes: []Stroke{
		{Kind: StrokeRect, Points: [][2]float64{{0, 0}, {100, 100}}},
	}})
	require.NoError(t, err)

	// 构建画布后重新上传了更小的图
	_, err = p.LoadImage(sess, pngBytes(t, gradient(400, 300)), FormatPNG)
	require.NoError(t, err)

	mask, err := p.ApplyStrokes(sess, surface)
	require.NoError(t, err)
	require.Equal(t, image.Pt(400, 300), mask.Rect.Size())
	_, box := MaskStats(mask)
	assert.Equal(t, image.Rect(0, 0, 100, 100), box)
}

func TestLoadImageRejectsTooManyPixels(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.MaxPixels = 100 * 100
	p := NewPipeline(&cfg.Canvas, &cfg.Upload, newTestService(t, &fakeInpainter{}, nil))
	sess := NewSession("bomb")

	_, err := p.LoadImage(sess, pngBytes(t, image.NewGray(image.Rect(0, 0, 101, 100))), FormatPNG)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StateEmpty, sess.State())

	_, err = p.LoadImage(sess, pngBytes(t, image.NewGray(image.Rect(0, 0, 100, 100))), FormatPNG)
	assert.NoError(t, err)
}
