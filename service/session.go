package service

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/utils"
	"go.uber.org/zap"
)

// State 会话状态
type State int32

const (
	StateEmpty State = iota
	StateImageLoaded
	StateDrawing
	StateMaskReady
	StateProcessing
	StateResult
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateImageLoaded:
		return "image_loaded"
	case StateDrawing:
		return "drawing"
	case StateMaskReady:
		return "mask_ready"
	case StateProcessing:
		return "processing"
	case StateResult:
		return "result"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateEmpty:       {StateImageLoaded},
	StateImageLoaded: {StateImageLoaded, StateDrawing, StateProcessing},
	StateDrawing:     {StateImageLoaded, StateDrawing, StateMaskReady},
	StateMaskReady:   {StateImageLoaded, StateDrawing, StateProcessing},
	StateProcessing:  {StateResult, StateError},
	StateResult:      {StateImageLoaded, StateDrawing, StateProcessing},
	StateError:       {StateImageLoaded, StateDrawing, StateProcessing},
}

// CanTransition 判断状态迁移是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session 单个用户会话的全部状态，会话之间互不共享
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	state     atomic.Int32
	source    *RGB
	sourceMD5 string
	display   *RGB
	geometry  Geometry
	mask      *image.Gray
	result    *RGB
	lastErr   error
	lastUsed  time.Time
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, lastUsed: now}
}

// State 无锁读取当前状态，处理过程中也可查询
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) transition(to State) error {
	from := s.State()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state.Store(int32(to))
	return nil
}

// Snapshot 会话只读视图
type Snapshot struct {
	State     State
	Source    *RGB
	SourceMD5 string
	Display   *RGB
	Geometry  Geometry
	Mask      *image.Gray
	Result    *RGB
	LastErr   error
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// TrySnapshot 会话正忙（如处理中）时不等待，返回 false
func (s *Session) TrySnapshot() (Snapshot, bool) {
	if !s.mu.TryLock() {
		return Snapshot{State: s.State()}, false
	}
	defer s.mu.Unlock()
	return s.snapshotLocked(), true
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:     s.State(),
		Source:    s.source,
		SourceMD5: s.sourceMD5,
		Display:   s.display,
		Geometry:  s.geometry,
		Mask:      s.mask,
		Result:    s.result,
		LastErr:   s.lastErr,
	}
}

// Pipeline 串联加载、画布适配、掩码构建与修复
type Pipeline struct {
	maxWidth   int
	maxHeight  int
	brushWidth float64
	minBrush   float64
	maxBrush   float64
	maxPixels  int
	inpaint    *InpaintService
}

func NewPipeline(canvas *config.CanvasConfig, upload *config.UploadConfig, inpaint *InpaintService) *Pipeline {
	return &Pipeline{
		maxWidth:   canvas.MaxWidth,
		maxHeight:  canvas.MaxHeight,
		brushWidth: float64(canvas.BrushWidth),
		minBrush:   float64(canvas.MinBrush),
		maxBrush:   float64(canvas.MaxBrush),
		maxPixels:  upload.MaxPixels,
		inpaint:    inpaint,
	}
}

// Inpaint 返回修复服务
func (p *Pipeline) Inpaint() *InpaintService {
	return p.inpaint
}

// LoadImage 解码上传并生成显示图，任何非处理中状态都可重新上传
func (p *Pipeline) LoadImage(sess *Session, data []byte, format Format) (Geometry, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !CanTransition(sess.State(), StateImageLoaded) {
		return Geometry{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.State(), StateImageLoaded)
	}

	src, err := DecodeImage(data, format, p.maxPixels)
	if err != nil {
		return Geometry{}, err
	}
	display, geom := PrepareDisplay(src, p.maxWidth, p.maxHeight)

	sess.source = src
	sess.sourceMD5 = utils.BytesMD5(data)
	sess.display = display
	sess.geometry = geom
	sess.mask = nil
	sess.result = nil
	sess.lastErr = nil
	if err := sess.transition(StateImageLoaded); err != nil {
		return Geometry{}, err
	}

	utils.Logger.Info("image loaded",
		zap.String("session", sess.ID),
		zap.String("md5", sess.sourceMD5),
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("display_width", geom.Display.X),
		zap.Int("display_height", geom.Display.Y),
		zap.Float64("scale_x", geom.ScaleX),
		zap.Float64("scale_y", geom.ScaleY))

	return geom, nil
}

// NewScriptSurface 校验笔迹脚本，画布尺寸在 ApplyStrokes 时按会话当前几何确定
func (p *Pipeline) NewScriptSurface(script *StrokeScript) (DrawingSurface, error) {
	if err := script.Validate(p.minBrush, p.maxBrush); err != nil {
		return nil, err
	}
	return ScriptSurface{Script: script, BrushWidth: p.brushWidth}, nil
}

// ApplyStrokes 捕获画布并构建与原图对齐的掩码
func (p *Pipeline) ApplyStrokes(sess *Session, surface DrawingSurface) (*image.Gray, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.source == nil {
		return nil, ErrNoImage
	}
	if err := sess.transition(StateDrawing); err != nil {
		return nil, err
	}
	sess.mask = nil

	raster, err := surface.Capture(sess.geometry)
	if err != nil {
		return nil, err
	}
	if raster != nil {
		if err := CheckCanvasSize(raster.Bounds().Size(), sess.geometry); err != nil {
			return nil, err
		}
	}

	mask := BuildMask(raster, sess.source.Size())
	sess.mask = mask
	if err := sess.transition(StateMaskReady); err != nil {
		return nil, err
	}

	count, box := MaskStats(mask)
	fields := []zap.Field{
		zap.String("session", sess.ID),
		zap.Int("marked", count),
		zap.String("bbox", box.String()),
	}
	if raster != nil {
		fields = append(fields, zap.Bool("resized", raster.Bounds().Size() != mask.Rect.Size()))
	}
	utils.Logger.Info("mask built", fields...)

	return mask, nil
}

// Process 执行修复，失败时会话进入错误状态，用户可重绘或重试
func (p *Pipeline) Process(ctx context.Context, sess *Session, params InpaintParams) (*RGB, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.source == nil {
		return nil, ErrNoImage
	}
	if err := sess.transition(StateProcessing); err != nil {
		return nil, err
	}

	mask := sess.mask
	if mask == nil {
		mask = BuildMask(nil, sess.source.Size())
		sess.mask = mask
	}

	result, err := p.inpaint.Run(ctx, sess.source, mask, params)
	if err != nil {
		sess.result = nil
		sess.lastErr = err
		_ = sess.transition(StateError)
		return nil, err
	}

	sess.result = result
	sess.lastErr = nil
	_ = sess.transition(StateResult)
	return result, nil
}

// Result 仅在成功处理后可用
func (s *Session) Result() (*RGB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateResult || s.result == nil {
		return nil, ErrNoResult
	}
	return s.result, nil
}
