package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/utils"
	"go.uber.org/zap"
)

// Method 修复算法
type Method string

const (
	// MethodTelea 快速的局部快速行进法
	MethodTelea Method = "telea"
	// MethodNS 较慢但质量更高的 Navier-Stokes 方法
	MethodNS Method = "ns"
)

// Methods 可选算法列表
var Methods = []Method{MethodTelea, MethodNS}

// ParseMethod 解析算法名称，支持 fast / quality 别名
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "telea", "fast":
		return MethodTelea, nil
	case "ns", "quality", "navier-stokes":
		return MethodNS, nil
	default:
		return "", fmt.Errorf("%w: unknown inpaint method %q", ErrInvalidParams, s)
	}
}

// Inpainter 外部修复能力，输入输出同尺寸
type Inpainter interface {
	Inpaint(src *RGB, mask *image.Gray, radius int, method Method) (*RGB, error)
}

// InpaintParams 每次处理前重新读取的用户参数
type InpaintParams struct {
	Radius int
	Method Method
}

// InpaintService 负责参数校验、尺寸检查、并发控制与异常转换
type InpaintService struct {
	inpainter     Inpainter
	cache         ResultCache
	defaultRadius int
	minRadius     int
	maxRadius     int
	defaultMethod Method
	semaphore     chan struct{}
	queueTimeout  time.Duration
}

// NewInpaintService cache 可以为 nil
func NewInpaintService(cfg *config.InpaintConfig, inpainter Inpainter, cache ResultCache) (*InpaintService, error) {
	method, err := ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	return &InpaintService{
		inpainter:     inpainter,
		cache:         cache,
		defaultRadius: cfg.Radius,
		minRadius:     cfg.MinRadius,
		maxRadius:     cfg.MaxRadius,
		defaultMethod: method,
		semaphore:     make(chan struct{}, max(cfg.MaxConcurrent, 1)),
		queueTimeout:  cfg.QueueTimeout,
	}, nil
}

// Defaults 默认参数
func (s *InpaintService) Defaults() InpaintParams {
	return InpaintParams{Radius: s.defaultRadius, Method: s.defaultMethod}
}

// RadiusRange 半径允许范围
func (s *InpaintService) RadiusRange() (int, int) {
	return s.minRadius, s.maxRadius
}

// ParseParams 从表单字符串解析参数，空值使用默认值
func (s *InpaintService) ParseParams(radius, method string) (InpaintParams, error) {
	p := s.Defaults()
	if radius != "" {
		r, err := strconv.Atoi(radius)
		if err != nil {
			return p, fmt.Errorf("%w: radius %q is not an integer", ErrInvalidParams, radius)
		}
		p.Radius = r
	}
	if method != "" {
		m, err := ParseMethod(method)
		if err != nil {
			return p, err
		}
		p.Method = m
	}
	return p, s.validate(p)
}

func (s *InpaintService) validate(p InpaintParams) error {
	if p.Radius < s.minRadius || p.Radius > s.maxRadius {
		return fmt.Errorf("%w: radius %d outside [%d, %d]", ErrInvalidParams, p.Radius, s.minRadius, s.maxRadius)
	}
	if p.Method != MethodTelea && p.Method != MethodNS {
		return fmt.Errorf("%w: unknown inpaint method %q", ErrInvalidParams, p.Method)
	}
	return nil
}

// Run 调用外部修复
func (s *InpaintService) Run(ctx context.Context, src *RGB, mask *image.Gray, params InpaintParams) (*RGB, error) {
	if mask.Rect.Size() != src.Size() {
		return nil, &DimensionMismatchError{Mask: mask.Rect.Size(), Source: src.Size()}
	}
	if err := s.validate(params); err != nil {
		return nil, err
	}

	// 空掩码不调用外部修复
	if IsEmpty(mask) {
		return src.Clone(), nil
	}

	key := cacheKey(src, mask, params)
	if cached := s.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	// 并发控制
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	start := time.Now()
	out, err := s.invoke(src, mask, params)
	if err != nil {
		utils.Logger.Error("inpaint failed",
			zap.Int("radius", params.Radius),
			zap.String("method", string(params.Method)),
			zap.Error(err))
		return nil, err
	}

	utils.Logger.Info("inpaint finished",
		zap.Int("width", src.Width),
		zap.Int("height", src.Height),
		zap.Int("radius", params.Radius),
		zap.String("method", string(params.Method)),
		zap.Duration("duration", time.Since(start)))

	s.store(ctx, key, out)
	return out, nil
}

func (s *InpaintService) acquire(ctx context.Context) error {
	select {
	case s.semaphore <- struct{}{}:
		return nil
	default:
	}

	wait, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-wait.Done():
		return ErrQueueFull
	}
}

func (s *InpaintService) invoke(src *RGB, mask *image.Gray, params InpaintParams) (out *RGB, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &ProcessingError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err = s.inpainter.Inpaint(src, mask, params.Radius, params.Method)
	if err != nil {
		var pe *ProcessingError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProcessingError{Err: err}
	}
	if out == nil {
		return nil, &ProcessingError{Err: errors.New("inpainter returned no image")}
	}
	if out.Size() != src.Size() {
		return nil, &ProcessingError{Err: fmt.Errorf("inpainter returned %dx%d for %dx%d input",
			out.Width, out.Height, src.Width, src.Height)}
	}
	return out, nil
}

func cacheKey(src *RGB, mask *image.Gray, params InpaintParams) string {
	return fmt.Sprintf("%s:%s:%d:%s",
		utils.JoinMD5([]byte(strconv.Itoa(src.Width)), []byte(strconv.Itoa(src.Height)), src.Pix),
		utils.BytesMD5(mask.Pix),
		params.Radius, params.Method)
}

func (s *InpaintService) lookup(ctx context.Context, key string) *RGB {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.GetResult(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	if data == nil {
		return nil
	}
	img, err := DecodePNG(bytes.NewReader(data))
	if err != nil {
		utils.Logger.Warn("failed to decode cached result", zap.String("key", key), zap.Error(err))
		return nil
	}
	utils.Logger.Info("cache hit", zap.String("key", key))
	return img
}

func (s *InpaintService) store(ctx context.Context, key string, img *RGB) {
	if s.cache == nil {
		return
	}
	data, err := EncodePNG(img)
	if err != nil {
		utils.Logger.Warn("failed to encode result for cache", zap.Error(err))
		return
	}
	if err := s.cache.SetResult(ctx, key, data); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}
}
