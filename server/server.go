// Package server exposes the SSD decoder and detector over HTTP.
package server

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	_ "github.com/chai2010/webp"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-ssd/config"
	"github.com/nvr-ai/go-ssd/inference"
	"github.com/nvr-ai/go-ssd/postprocess"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Server routes HTTP requests to a Decoder and, when a model is loaded, a
// Detector.
type Server struct {
	decoder  *postprocess.Decoder
	detector *inference.Detector
	cfg      config.ServerConfig
	log      *zap.Logger
	metrics  *metrics
	engine   *gin.Engine
}

// New creates a Server.
//
// Arguments:
//   - decoder: Serves /api/decode and /api/config.
//   - detector: Serves /api/detect, may be nil when no model is configured.
//   - cfg: The server section of the configuration.
//   - log: The logger, nil for none.
//
// Returns:
//   - *Server: The server with all routes registered.
func New(decoder *postprocess.Decoder, detector *inference.Detector, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		decoder:  decoder,
		detector: detector,
		cfg:      cfg,
		log:      log,
		metrics:  newMetrics(),
		engine:   gin.New(),
	}

	r := s.engine
	r.Use(gin.Recovery(), s.requestID(), s.metrics.instrument(), s.accessLog(), s.limitBody())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/config", s.handleConfig)
	r.POST("/api/decode", s.handleDecode)
	r.POST("/api/detect", s.handleDetect)
	r.GET("/metrics", gin.WrapH(s.metrics.handler()))
	return s
}

// Handler returns the http.Handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("address", s.cfg.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.MaxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		}
		c.Next()
	}
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.decoder.Config()})
}

// DecodeRequest is a raw prediction tensor in row-major order.
type DecodeRequest struct {
	Shape []int     `json:"shape" binding:"required,len=3"`
	Data  []float32 `json:"data"`
}

// DecodeResponse holds the [batch, top_k, 6] output, one slice per row.
type DecodeResponse struct {
	Shape      []int       `json:"shape"`
	Detections [][]float32 `json:"detections"`
}

func (s *Server) handleDecode(c *gin.Context) {
	var req DecodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch, nBoxes, width := req.Shape[0], req.Shape[1], req.Shape[2]
	// The output grows with batch even when the request carries no data.
	if s.cfg.MaxBatch > 0 && batch > s.cfg.MaxBatch {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("batch %d exceeds the limit of %d", batch, s.cfg.MaxBatch),
		})
		return
	}
	out, err := s.decoder.DecodeSlice(c.Request.Context(), req.Data, batch, nBoxes, width)
	if err != nil {
		s.fail(c, err)
		return
	}

	rows := make([][]float32, len(out)/postprocess.RowSize)
	for i := range rows {
		rows[i] = out[i*postprocess.RowSize : (i+1)*postprocess.RowSize]
		if !postprocess.FromRow(rows[i]).IsPadding() {
			s.metrics.detections.Inc()
		}
	}
	c.JSON(http.StatusOK, DecodeResponse{
		Shape:      []int{batch, s.decoder.Config().TopK, postprocess.RowSize},
		Detections: rows,
	})
}

// Object is one detection of /api/detect.
type Object struct {
	Class int        `json:"class"`
	Label string     `json:"label"`
	Score float32    `json:"score"`
	Box   [4]float32 `json:"box"`
}

func (s *Server) handleDetect(c *gin.Context) {
	if s.detector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no model loaded"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
		return
	}

	dets, err := s.detector.Detect(c.Request.Context(), img)
	if err != nil {
		s.fail(c, err)
		return
	}

	labels := s.detector.Labels()
	objects := make([]Object, len(dets))
	for i, d := range dets {
		objects[i] = Object{
			Class: d.Class,
			Label: inference.Label(labels, d.Class),
			Score: d.Score,
			Box:   [4]float32{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
		}
	}
	s.metrics.detections.Add(float64(len(objects)))

	b := img.Bounds()
	c.JSON(http.StatusOK, gin.H{
		"data": objects,
		"image": gin.H{
			"format": format,
			"width":  b.Dx(),
			"height": b.Dy(),
		},
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, postprocess.ErrInputShape):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
