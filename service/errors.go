package service

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrUnsupportedType   = errors.New("unsupported image type")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNoImage           = errors.New("no image loaded")
	ErrNoResult          = errors.New("no result available")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTooManySessions   = errors.New("too many active sessions")
	ErrQueueFull         = errors.New("inpaint queue is full")
	ErrInvalidParams     = errors.New("invalid parameters")
)

// DecodeError 上传或画布数据无法解码
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode image: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// DimensionMismatchError 掩码与原图尺寸不一致，属于内部逻辑错误
type DimensionMismatchError struct {
	Mask   image.Point
	Source image.Point
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("mask is %dx%d but source is %dx%d",
		e.Mask.X, e.Mask.Y, e.Source.X, e.Source.Y)
}

// ProcessingError 外部修复调用失败
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string { return fmt.Sprintf("inpaint failed: %v", e.Err) }

func (e *ProcessingError) Unwrap() error { return e.Err }
