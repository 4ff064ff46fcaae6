// Command rmwm removes a marked watermark from a single image.
//
// The mask comes either from a stroke script (YAML, canvas coordinates of the
// display-sized preview) or from a canvas raster PNG. Both are reconciled to
// the source resolution before inpainting, exactly as the web service does.
//
//	rmwm -src photo.jpg -dst clean.png -strokes marks.yaml
//	rmwm -src photo.jpg -dst clean.png -mask canvas.png -method ns -radius 5
package main

import (
	"context"
	"flag"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/service"
	"github.com/IoavM/marcasagua/service/opencv"
	"github.com/IoavM/marcasagua/utils"
	"go.uber.org/zap"
)

func main() {
	// Read flags
	srcPath := flag.String("src", "", "sets input image path")
	dstPath := flag.String("dst", "", "sets destination PNG path")
	strokesPath := flag.String("strokes", "", "stroke script (yaml) in canvas coordinates")
	maskPath := flag.String("mask", "", "canvas raster (png) at display or source size: transparent where untouched, or an opaque black/white mask")
	maskOut := flag.String("mask-out", "", "optionally write the reconciled mask here")
	radius := flag.String("radius", "", "inpaint radius (defaults to config)")
	method := flag.String("method", "", "inpaint method: telea|fast or ns|quality")
	debugFlag := flag.Bool("debug", false, "Debug logging level")
	configFilename := flag.String("config", "config.yaml", "Config File")
	flag.Parse()

	cfg := config.NewFromPath(*configFilename)

	mode := "release"
	if *debugFlag {
		mode = "debug"
	}
	if err := utils.InitLogger(mode); err != nil {
		panic(err)
	}
	defer utils.Sync()
	log := utils.Logger

	// Perform input validation
	if *srcPath == "" || *dstPath == "" {
		log.Fatal("src and dst are required")
	}
	if (*strokesPath == "") == (*maskPath == "") {
		log.Fatal("exactly one of strokes or mask is required")
	}

	start := time.Now()
	base := filepath.Base(*srcPath)

	format, err := service.FormatFromFilename(*srcPath)
	if err != nil {
		log.Fatal("unsupported source", zap.String("src", *srcPath), zap.Error(err))
	}
	data, err := os.ReadFile(*srcPath)
	if err != nil {
		log.Fatal("read source", zap.Error(err))
	}

	inpaintService, err := service.NewInpaintService(&cfg.Inpaint, opencv.NewInpainter(cfg.Inpaint.MaskDilation), nil)
	if err != nil {
		log.Fatal("invalid inpaint config", zap.Error(err))
	}
	params, err := inpaintService.ParseParams(*radius, *method)
	if err != nil {
		log.Fatal("invalid parameters", zap.Error(err))
	}

	pipeline := service.NewPipeline(&cfg.Canvas, &cfg.Upload, inpaintService)
	sess := service.NewSession(utils.NewSessionID())

	geom, err := pipeline.LoadImage(sess, data, format)
	if err != nil {
		log.Fatal("load image", zap.Error(err))
	}
	log.Debug(base,
		zap.Int("width", geom.Source.X),
		zap.Int("height", geom.Source.Y),
		zap.Int("display_width", geom.Display.X),
		zap.Int("display_height", geom.Display.Y))

	var surface service.DrawingSurface
	if *strokesPath != "" {
		raw, err := os.ReadFile(*strokesPath)
		if err != nil {
			log.Fatal("read strokes", zap.Error(err))
		}
		script, err := service.ParseStrokeScript(raw)
		if err != nil {
			log.Fatal("parse strokes", zap.Error(err))
		}
		if surface, err = pipeline.NewScriptSurface(script); err != nil {
			log.Fatal("invalid strokes", zap.Error(err))
		}
	} else {
		raw, err := os.ReadFile(*maskPath)
		if err != nil {
			log.Fatal("read mask", zap.Error(err))
		}
		surface = service.RasterSurface{Data: raw}
	}

	mask, err := pipeline.ApplyStrokes(sess, surface)
	if err != nil {
		log.Fatal("build mask", zap.Error(err))
	}
	if *maskOut != "" {
		writePNG(log, *maskOut, mask)
	}

	out, err := pipeline.Process(context.Background(), sess, params)
	if err != nil {
		log.Fatal("remove watermark", zap.Error(err))
	}
	writePNG(log, *dstPath, out)

	// Done
	marked, box := service.MaskStats(mask)
	log.Info(base,
		zap.Int64("duration(ms)", time.Since(start).Milliseconds()),
		zap.Int("radius", params.Radius),
		zap.String("method", string(params.Method)),
		zap.Int("marked", marked),
		zap.String("bbox", box.String()),
		zap.String("dst", *dstPath))
}

func writePNG(log *zap.Logger, path string, img image.Image) {
	data, err := service.EncodePNG(img)
	if err != nil {
		log.Fatal("encode png", zap.String("path", path), zap.Error(err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatal("error writing image to disk", zap.String("path", path), zap.Error(err))
	}
}
