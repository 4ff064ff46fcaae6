package handler

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/model"
	"github.com/IoavM/marcasagua/service"
	"github.com/IoavM/marcasagua/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SessionHandler struct {
	cfg      *config.Config
	store    *service.SessionStore
	pipeline *service.Pipeline
}

func NewSessionHandler(cfg *config.Config, store *service.SessionStore, pipeline *service.Pipeline) *SessionHandler {
	return &SessionHandler{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
	}
}

// Register 注册路由
func (h *SessionHandler) Register(api *gin.RouterGroup) {
	api.GET("/options", h.Options)
	api.POST("/sessions", h.Create)
	api.GET("/sessions/:id", h.Get)
	api.DELETE("/sessions/:id", h.Delete)
	api.POST("/sessions/:id/image", h.Upload)
	api.GET("/sessions/:id/display", h.Display)
	api.PUT("/sessions/:id/strokes", h.Strokes)
	api.GET("/sessions/:id/mask", h.Mask)
	api.POST("/sessions/:id/process", h.Process)
	api.GET("/sessions/:id/result", h.Result)
	api.GET("/sessions/:id/download", h.Download)
}

// Options 返回控件范围与默认值
func (h *SessionHandler) Options(c *gin.Context) {
	defaults := h.pipeline.Inpaint().Defaults()
	minR, maxR := h.pipeline.Inpaint().RadiusRange()

	methods := make([]string, 0, len(service.Methods))
	for _, m := range service.Methods {
		methods = append(methods, string(m))
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "ok",
		Data: model.Options{
			MaxWidth:  h.cfg.Canvas.MaxWidth,
			MaxHeight: h.cfg.Canvas.MaxHeight,
			Brush: model.Range{
				Min:     h.cfg.Canvas.MinBrush,
				Max:     h.cfg.Canvas.MaxBrush,
				Default: h.cfg.Canvas.BrushWidth,
			},
			Radius:     model.Range{Min: minR, Max: maxR, Default: defaults.Radius},
			Methods:    methods,
			Method:     string(defaults.Method),
			Extensions: h.cfg.Upload.AllowedExts,
		},
	})
}

// Create 创建会话
func (h *SessionHandler) Create(c *gin.Context) {
	sess, err := h.store.Create()
	if err != nil {
		h.fail(c, err)
		return
	}

	utils.Logger.Info("session created", zap.String("session", sess.ID))
	c.JSON(http.StatusCreated, model.Response{
		Success: true,
		Message: "会话已创建",
		Data:    sessionInfo(sess),
	})
}

// Get 查询会话状态，处理中也可立即返回
func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "ok",
		Data:    sessionInfo(sess),
	})
}

// Delete 删除会话
func (h *SessionHandler) Delete(c *gin.Context) {
	if !h.store.Delete(c.Param("id")) {
		h.fail(c, service.ErrSessionNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// Upload 处理图片上传
func (h *SessionHandler) Upload(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型，不合法时不尝试解码
	format, err := service.FormatFromFilename(file.Filename)
	if err != nil || !h.isAllowedExt(file.Filename) || !h.isAllowedType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG",
		})
		return
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxSize+1))
	if err != nil {
		h.fail(c, err)
		return
	}

	geom, err := h.pipeline.LoadImage(sess, data, format)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "图片已加载",
		Data:    imageInfo(sess.Snapshot().SourceMD5, geom),
	})
}

// Display 返回画布背景图
func (h *SessionHandler) Display(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	if snap.Display == nil {
		h.fail(c, service.ErrNoImage)
		return
	}
	h.png(c, snap.Display, "")
}

// Strokes 接收画布笔迹：multipart 的 PNG 栅格，或 JSON 笔迹脚本
func (h *SessionHandler) Strokes(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var surface service.DrawingSurface
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var script service.StrokeScript
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Upload.MaxSize)
		if err := c.ShouldBindJSON(&script); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", service.ErrInvalidParams, err))
			return
		}
		s, err := h.pipeline.NewScriptSurface(&script)
		if err != nil {
			h.fail(c, err)
			return
		}
		surface = s
	} else {
		file, err := c.FormFile("strokes")
		if err != nil {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "请上传画布数据",
				Error:   err.Error(),
			})
			return
		}
		if file.Size > h.cfg.Upload.MaxSize {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
			})
			return
		}
		f, err := file.Open()
		if err != nil {
			h.fail(c, err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, h.cfg.Upload.MaxSize))
		f.Close()
		if err != nil {
			h.fail(c, err)
			return
		}
		surface = service.RasterSurface{Data: data}
	}

	mask, err := h.pipeline.ApplyStrokes(sess, surface)
	if err != nil {
		h.fail(c, err)
		return
	}

	info := maskInfo(mask)
	if c.Query("preview") == "true" {
		if info.Mask, err = service.EncodeBase64PNG(mask); err != nil {
			h.fail(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "掩码已生成",
		Data:    info,
	})
}

// Mask 返回当前掩码
func (h *SessionHandler) Mask(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	snap := sess.Snapshot()
	if snap.Mask == nil {
		c.JSON(http.StatusConflict, model.ErrorResponse{
			Success: false,
			Message: "尚未生成掩码",
		})
		return
	}
	h.png(c, snap.Mask, "")
}

// Process 执行去水印，参数在每次处理前重新读取
func (h *SessionHandler) Process(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	params, err := h.pipeline.Inpaint().ParseParams(
		c.DefaultPostForm("radius", c.Query("radius")),
		c.DefaultPostForm("method", c.Query("method")),
	)
	if err != nil {
		h.fail(c, err)
		return
	}

	start := time.Now()
	result, err := h.pipeline.Process(c.Request.Context(), sess, params)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "处理成功",
		Data: model.ResultInfo{
			Width:       result.Width,
			Height:      result.Height,
			Radius:      params.Radius,
			Method:      string(params.Method),
			DurationMS:  time.Since(start).Milliseconds(),
			DownloadURL: fmt.Sprintf("/api/v1/sessions/%s/download", sess.ID),
		},
	})
}

// Result 内联返回结果图
func (h *SessionHandler) Result(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	result, err := sess.Result()
	if err != nil {
		h.fail(c, err)
		return
	}
	h.png(c, result, "")
}

// Download 以固定文件名下载结果
func (h *SessionHandler) Download(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	result, err := sess.Result()
	if err != nil {
		h.fail(c, err)
		return
	}
	h.png(c, result, service.DownloadFilename)
}

func sessionInfo(sess *service.Session) model.SessionInfo {
	snap, _ := sess.TrySnapshot()
	info := model.SessionInfo{
		ID:        sess.ID,
		State:     snap.State.String(),
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
	}
	if snap.Source != nil {
		img := imageInfo(snap.SourceMD5, snap.Geometry)
		info.Image = &img
	}
	if snap.Mask != nil {
		m := maskInfo(snap.Mask)
		info.Mask = &m
	}
	if snap.LastErr != nil {
		info.Error = snap.LastErr.Error()
	}
	return info
}

func imageInfo(md5 string, geom service.Geometry) model.ImageInfo {
	return model.ImageInfo{
		MD5:           md5,
		Width:         geom.Source.X,
		Height:        geom.Source.Y,
		DisplayWidth:  geom.Display.X,
		DisplayHeight: geom.Display.Y,
		ScaleX:        geom.ScaleX,
		ScaleY:        geom.ScaleY,
		Resized:       geom.Resized(),
	}
}

func maskInfo(mask *image.Gray) model.MaskInfo {
	count, box := service.MaskStats(mask)
	return model.MaskInfo{
		Width:  mask.Rect.Dx(),
		Height: mask.Rect.Dy(),
		Marked: count,
		BoundingBox: model.BBox{
			X:      box.Min.X,
			Y:      box.Min.Y,
			Width:  box.Dx(),
			Height: box.Dy(),
		},
	}
}

func (h *SessionHandler) session(c *gin.Context) (*service.Session, bool) {
	sess, err := h.store.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) png(c *gin.Context, img image.Image, filename string) {
	data, err := service.EncodePNG(img)
	if err != nil {
		utils.Logger.Error("failed to encode png", zap.Error(err))
		h.fail(c, err)
		return
	}
	if filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename)))
	}
	c.Data(http.StatusOK, "image/png", data)
}

// fail 将错误映射为状态码与提示
func (h *SessionHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "服务器内部错误"

	var decodeErr *service.DecodeError
	var dimErr *service.DimensionMismatchError
	var procErr *service.ProcessingError

	switch {
	case errors.Is(err, service.ErrUnsupportedType):
		status, message = http.StatusUnsupportedMediaType, "不支持的文件类型，仅支持 JPEG/PNG"
	case errors.As(err, &decodeErr):
		status, message = http.StatusBadRequest, "图片无法解码，请重新上传"
	case errors.Is(err, service.ErrInvalidParams):
		status, message = http.StatusBadRequest, "参数不合法"
	case errors.Is(err, service.ErrSessionNotFound):
		status, message = http.StatusNotFound, "会话不存在或已过期"
	case errors.Is(err, service.ErrInvalidTransition):
		status, message = http.StatusConflict, "当前状态不允许该操作"
	case errors.Is(err, service.ErrNoImage):
		status, message = http.StatusConflict, "请先上传图片"
	case errors.Is(err, service.ErrNoResult):
		status, message = http.StatusConflict, "尚无处理结果"
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrTooManySessions):
		status, message = http.StatusServiceUnavailable, "处理队列已满，请稍后重试"
	case errors.As(err, &dimErr):
		message = "掩码与原图尺寸不一致（内部错误），未执行修复"
	case errors.As(err, &procErr):
		message = "去水印失败，请重新绘制或重新上传图片"
	}

	if status >= http.StatusInternalServerError {
		utils.Logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("session", c.Param("id")),
			zap.Error(err))
	} else {
		utils.Logger.Warn("request rejected",
			zap.String("path", c.FullPath()),
			zap.String("session", c.Param("id")),
			zap.Error(err))
	}

	c.JSON(status, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func (h *SessionHandler) isAllowedType(contentType string) bool {
	// 部分客户端不带类型，由扩展名把关
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

func (h *SessionHandler) isAllowedExt(filename string) bool {
	ext := filepath.Ext(filename)
	for _, allowed := range h.cfg.Upload.AllowedExts {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}
