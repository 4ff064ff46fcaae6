package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Canvas  CanvasConfig  `mapstructure:"canvas"`
	Inpaint InpaintConfig `mapstructure:"inpaint"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	MaxPixels    int      `mapstructure:"max_pixels"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	AllowedExts  []string `mapstructure:"allowed_exts"`
}

// CanvasConfig 绘图画布的显示上限与画笔范围
type CanvasConfig struct {
	MaxWidth   int `mapstructure:"max_width"`
	MaxHeight  int `mapstructure:"max_height"`
	BrushWidth int `mapstructure:"brush_width"`
	MinBrush   int `mapstructure:"min_brush"`
	MaxBrush   int `mapstructure:"max_brush"`
}

// InpaintConfig 修复算法参数与并发限制
type InpaintConfig struct {
	Radius        int           `mapstructure:"radius"`
	MinRadius     int           `mapstructure:"min_radius"`
	MaxRadius     int           `mapstructure:"max_radius"`
	Method        string        `mapstructure:"method"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	MaskDilation  int           `mapstructure:"mask_dilation"`
}

type SessionConfig struct {
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	return NewFromPath("config.yaml")
}

// NewFromPath 加载指定路径的配置，失败时回退到默认配置
func NewFromPath(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

// Validate 检查各项范围是否自洽
func (c *Config) Validate() error {
	if c.Upload.MaxSize <= 0 || c.Upload.MaxPixels <= 0 {
		return fmt.Errorf("upload max_size and max_pixels must be positive")
	}
	if c.Canvas.MaxWidth <= 0 || c.Canvas.MaxHeight <= 0 {
		return fmt.Errorf("canvas max size must be positive, got %dx%d", c.Canvas.MaxWidth, c.Canvas.MaxHeight)
	}
	if c.Canvas.MinBrush < 1 || c.Canvas.MinBrush > c.Canvas.MaxBrush {
		return fmt.Errorf("invalid brush range [%d, %d]", c.Canvas.MinBrush, c.Canvas.MaxBrush)
	}
	if c.Canvas.BrushWidth < c.Canvas.MinBrush || c.Canvas.BrushWidth > c.Canvas.MaxBrush {
		return fmt.Errorf("brush width %d outside [%d, %d]", c.Canvas.BrushWidth, c.Canvas.MinBrush, c.Canvas.MaxBrush)
	}
	if c.Inpaint.MinRadius < 1 || c.Inpaint.MinRadius > c.Inpaint.MaxRadius {
		return fmt.Errorf("invalid inpaint radius range [%d, %d]", c.Inpaint.MinRadius, c.Inpaint.MaxRadius)
	}
	if c.Inpaint.Radius < c.Inpaint.MinRadius || c.Inpaint.Radius > c.Inpaint.MaxRadius {
		return fmt.Errorf("inpaint radius %d outside [%d, %d]", c.Inpaint.Radius, c.Inpaint.MinRadius, c.Inpaint.MaxRadius)
	}
	if c.Inpaint.MaxConcurrent < 1 {
		return fmt.Errorf("inpaint max_concurrent must be at least 1")
	}
	if c.Inpaint.MaskDilation < 0 {
		return fmt.Errorf("inpaint mask_dilation must not be negative")
	}
	if c.Session.MaxSessions < 1 {
		return fmt.Errorf("session max_sessions must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.max_pixels", d.Upload.MaxPixels)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)
	v.SetDefault("upload.allowed_exts", d.Upload.AllowedExts)

	v.SetDefault("canvas.max_width", d.Canvas.MaxWidth)
	v.SetDefault("canvas.max_height", d.Canvas.MaxHeight)
	v.SetDefault("canvas.brush_width", d.Canvas.BrushWidth)
	v.SetDefault("canvas.min_brush", d.Canvas.MinBrush)
	v.SetDefault("canvas.max_brush", d.Canvas.MaxBrush)

	v.SetDefault("inpaint.radius", d.Inpaint.Radius)
	v.SetDefault("inpaint.min_radius", d.Inpaint.MinRadius)
	v.SetDefault("inpaint.max_radius", d.Inpaint.MaxRadius)
	v.SetDefault("inpaint.method", d.Inpaint.Method)
	v.SetDefault("inpaint.max_concurrent", d.Inpaint.MaxConcurrent)
	v.SetDefault("inpaint.queue_timeout", d.Inpaint.QueueTimeout)
	v.SetDefault("inpaint.mask_dilation", d.Inpaint.MaskDilation)

	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.max_sessions", d.Session.MaxSessions)
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			MaxPixels:    40_000_000,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
			AllowedExts:  []string{".jpg", ".jpeg", ".png"},
		},
		Canvas: CanvasConfig{
			MaxWidth:   800,
			MaxHeight:  600,
			BrushWidth: 10,
			MinBrush:   1,
			MaxBrush:   50,
		},
		Inpaint: InpaintConfig{
			Radius:        3,
			MinRadius:     1,
			MaxRadius:     10,
			Method:        "telea",
			MaxConcurrent: 2,
			QueueTimeout:  60 * time.Second,
			MaskDilation:  0,
		},
		Session: SessionConfig{
			TTL:         30 * time.Minute,
			MaxSessions: 256,
		},
	}
}
