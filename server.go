package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mpromonet/flowercam/detector"
	"github.com/mpromonet/flowercam/monitor"
	"github.com/mpromonet/flowercam/overlay"
)

const requestIDHeader = "X-Request-Id"

type Server struct {
	runner   detector.Runner
	stats    func() detector.Stats
	session  *Session
	renderer *overlay.Renderer
	exporter overlay.Exporter
	monitor  *monitor.Monitor
	logger   *zap.Logger

	surfaceW, surfaceH int
	staticDir          string
}

func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.POST("/runmodel", s.runModel)

	api := router.Group("/api")
	api.GET("/detections", s.detections)
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.stats())
	})
	api.GET("/overlay.png", s.overlayImage)
	api.POST("/capture", s.capture)

	if s.monitor != nil {
		router.GET("/metrics", gin.WrapH(s.monitor.Handler()))
	}
	if s.staticDir != "" {
		router.Use(static.Serve("/", static.LocalFile(s.staticDir, true)))
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "static"
		}
		status := c.Writer.Status()
		if s.monitor != nil {
			s.monitor.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug("request",
			zap.String("id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// runModel detects on a single uploaded image, bypassing the live pipeline.
func (s *Server) runModel(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}

	img, err := gocv.IMDecode(body, gocv.IMReadColor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decode image"})
		return
	}
	defer img.Close()
	if img.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decode image"})
		return
	}

	rotation, err := strconv.Atoi(c.DefaultQuery("rotation", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rotation"})
		return
	}
	mirrored, err := strconv.ParseBool(c.DefaultQuery("mirrored", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mirrored flag"})
		return
	}
	res, err := s.runner.Run(detector.FrameFromMat(img, rotation, mirrored))

	var (
		preprocessErr *detector.PreprocessError
		decodeErr     *detector.DecodeError
	)
	switch {
	case err == nil:
	case errors.As(err, &decodeErr):
		s.logger.Warn("undecodable output", zap.Error(err))
		res = detector.DetectionResult{Boxes: []detector.BoundingBox{}}
	case errors.As(err, &preprocessErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		s.logger.Error("detection failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"boxes":           res.Boxes,
		"inferenceTimeMs": res.InferenceTimeMs(),
		"width":           img.Cols(),
		"height":          img.Rows(),
	})
}

func (s *Server) detections(c *gin.Context) {
	c.JSON(http.StatusOK, s.session.Snapshot())
}

// surface reads the preview size from the query, defaulting to the configured one.
func (s *Server) surface(c *gin.Context) (int, int, bool) {
	w, errW := strconv.Atoi(c.DefaultQuery("width", strconv.Itoa(s.surfaceW)))
	h, errH := strconv.Atoi(c.DefaultQuery("height", strconv.Itoa(s.surfaceH)))
	if errW != nil || errH != nil || w <= 0 || h <= 0 || w > 8192 || h > 8192 {
		return 0, 0, false
	}
	return w, h, true
}

func (s *Server) overlayImage(c *gin.Context) {
	w, h, ok := s.surface(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid overlay size"})
		return
	}
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store")
	if err := imaging.Encode(c.Writer, s.renderer.Render(w, h), imaging.PNG); err != nil {
		s.logger.Warn("overlay encode failed", zap.Error(err))
	}
}

func (s *Server) capture(c *gin.Context) {
	w, h, ok := s.surface(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid overlay size"})
		return
	}
	name, err := s.session.Capture(c.Request.Context(), s.exporter, w, h)
	switch {
	case errors.Is(err, errNoFrame):
		s.countCapture("no_frame")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.countCapture("error")
		s.logger.Error("capture failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		s.countCapture("ok")
		c.JSON(http.StatusCreated, gin.H{"name": name})
	}
}

func (s *Server) countCapture(result string) {
	if s.monitor != nil {
		s.monitor.Captures.WithLabelValues(result).Inc()
	}
}
