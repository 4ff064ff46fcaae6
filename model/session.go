package model

// SessionInfo 会话信息
type SessionInfo struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	CreatedAt string     `json:"created_at"`
	Image     *ImageInfo `json:"image,omitempty"`
	Mask      *MaskInfo  `json:"mask,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ImageInfo 上传后的原图与显示画布信息
type ImageInfo struct {
	MD5           string  `json:"md5"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	DisplayWidth  int     `json:"display_width"`
	DisplayHeight int     `json:"display_height"`
	ScaleX        float64 `json:"scale_x"`
	ScaleY        float64 `json:"scale_y"`
	Resized       bool    `json:"resized"`
}

// MaskInfo 掩码统计
type MaskInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Marked      int    `json:"marked"`
	BoundingBox BBox   `json:"bounding_box"`
	Mask        string `json:"mask,omitempty"` // data URL
}

// ResultInfo 修复结果
type ResultInfo struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Radius      int    `json:"radius"`
	Method      string `json:"method"`
	DurationMS  int64  `json:"duration_ms"`
	DownloadURL string `json:"download_url"`
}

// BBox 边界框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Range 整数范围
type Range struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

// Options 控件可选项，处理前由前端重新读取
type Options struct {
	MaxWidth   int      `json:"max_width"`
	MaxHeight  int      `json:"max_height"`
	Brush      Range    `json:"brush"`
	Radius     Range    `json:"radius"`
	Methods    []string `json:"methods"`
	Method     string   `json:"method"`
	Extensions []string `json:"extensions"`
}

// Response 通用响应
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
