// Package server exposes the liveness pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/faceproof/liveness"
	"github.com/faceproof/liveness/logger"
)

// maxBodySize bounds the accepted request body.
const maxBodySize = 15 << 20

// requestIDHeader carries the trace id of every request.
const requestIDHeader = "X-Request-ID"

// Analyzer is the part of the pipeline used by the server.
type Analyzer interface {
	Analyze(img image.Image) (*liveness.Analysis, error)
}

// Server is the HTTP front of the liveness pipeline.
type Server struct {
	router   *gin.Engine
	analyzer Analyzer
	metrics  *Metrics
	log      *logrus.Logger
	timeout  time.Duration
	origins  []string
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithTimeout bounds the time spent analyzing a single image.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// WithOrigins restricts the CORS allowed origins. Every origin is allowed by default.
func WithOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// New builds the server and registers its routes.
func New(analyzer Analyzer, opts ...Option) *Server {
	s := &Server{
		analyzer: analyzer,
		metrics:  NewMetrics(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Discard()
	}

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.origins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.origins
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), cors.New(corsConfig))

	api := router.Group("/api")
	{
		api.POST("/detect", s.detect)
		api.GET("/metrics", s.metricsHandler)
		api.GET("/dashboard/stats", s.dashboard)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"detail": fmt.Sprintf("%s %s does not exist", c.Request.Method, c.Request.URL.Path),
		})
	})

	s.router = router
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// requestLogger tags every request with a trace id and logs its outcome.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("requestID", id)

		start := time.Now()
		c.Next()

		entry := s.log.WithFields(logger.Fields{
			"request": id,
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.String())
			return
		}
		entry.Info("request served")
	}
}

// DetectRequest carries a base64 encoded image, optionally as a data URL.
type DetectRequest struct {
	Image string `json:"image" binding:"required"`
}

// GradCamData holds the attention cells rendered by the client.
type GradCamData struct {
	Highlights []liveness.Highlight `json:"highlights"`
}

// DetectResponse is the body returned by POST /api/detect.
type DetectResponse struct {
	IsReal     bool    `json:"isReal"`
	Confidence float64 `json:"confidence"`
	// AttackType is always null, attack categories are not modeled.
	AttackType  *string     `json:"attackType"`
	GradCamData GradCamData `json:"gradCamData"`
	// ProcessingTime is expressed in seconds.
	ProcessingTime float64 `json:"processingTime"`
}

func (s *Server) detect(c *gin.Context) {
	start := time.Now()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)

	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	img, err := decodeImage(req.Image)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	type outcome struct {
		analysis *liveness.Analysis
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		a, err := s.analyzer.Analyze(img)
		done <- outcome{a, err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		s.fail(c, http.StatusServiceUnavailable, fmt.Errorf("analysis aborted: %w", ctx.Err()))
		return
	case out = <-done:
	}
	if out.err != nil {
		s.fail(c, statusFor(out.err), out.err)
		return
	}

	res := out.analysis.Result
	elapsed := time.Since(start)
	s.metrics.Record(res.IsReal, elapsed)

	c.JSON(http.StatusOK, DetectResponse{
		IsReal:         res.IsReal,
		Confidence:     res.Confidence,
		GradCamData:    GradCamData{Highlights: res.Highlights},
		ProcessingTime: elapsed.Seconds(),
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) dashboard(c *gin.Context) {
	snap := s.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"totalDetections": snap.TotalDetections,
		"realFaces":       snap.RealFaces,
		"spoofAttempts":   snap.SpoofAttempts,
		"metrics": gin.H{
			"processingTime": snap.AverageProcessingTime,
		},
		"trendsData": gin.H{
			"weekly": s.metrics.Trend(),
		},
	})
}

// fail records the failure and aborts the request with a JSON error body.
func (s *Server) fail(c *gin.Context, status int, err error) {
	s.metrics.Fail()
	_ = c.Error(err)

	detail := err.Error()
	switch {
	case errors.Is(err, liveness.ErrNoFace):
		detail = "No face detected in the image"
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		detail = "Error processing image: " + detail
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var invalid *liveness.InvalidInputError
	switch {
	case errors.Is(err, liveness.ErrNoFace), errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeImage accepts either a data URL ("data:image/png;base64,...") or bare base64.
func decodeImage(payload string) (image.Image, error) {
	if i := strings.IndexByte(payload, ','); i >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode the image: %w", err)
	}
	return img, nil
}
