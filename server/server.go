// Package server 提供拍摄页面、会话 REST 接口和摄像头画面的 websocket 通道
package server

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/capture/source"
	"github.com/chaos-io/photobooth/present"
	"github.com/chaos-io/photobooth/rembg"
	"github.com/chaos-io/photobooth/session"
)

//go:embed web/index.html
var indexHTML []byte

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingEvery     = (pongWait * 9) / 10
	maxFrameBytes = 8 << 20
)

type Options struct {
	DownloadName string
	QRSize       int
	Logger       *slog.Logger
}

type Server struct {
	mgr          *session.Manager
	fetcher      *present.Fetcher
	upgrader     websocket.Upgrader
	engine       *gin.Engine
	downloadName string
	qrSize       int
	log          *slog.Logger
}

func New(mgr *session.Manager, fetcher *present.Fetcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DownloadName == "" {
		opts.DownloadName = present.DefaultDownloadName
	}
	s := &Server{
		mgr:     mgr,
		fetcher: fetcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		downloadName: opts.DownloadName,
		qrSize:       opts.QRSize,
		log:          opts.Logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听 addr，ctx 结束时优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/", s.handleIndex)
	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api/sessions")
	api.POST("", s.handleCreate)

	one := api.Group("/:id", s.loadSession)
	one.GET("", s.handleState)
	one.DELETE("", s.handleDelete)
	one.GET("/stream", s.handleStream)
	one.POST("/capture", s.handleCapture)
	one.POST("/retry", s.handleRetry)
	one.POST("/regenerate", s.handleRegenerate)
	one.POST("/next", s.handleNext)
	one.POST("/facing", s.handleFacing)
	one.POST("/torch", s.handleTorch)
	one.GET("/qr.png", s.handleQR)
	one.GET("/download", s.handleDownload)
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

const sessionKey = "session"

func (s *Server) loadSession(c *gin.Context) {
	sess, err := s.mgr.Get(c.Param("id"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Set(sessionKey, sess)
	c.Next()
}

func current(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}

// statusOf 错误到 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, source.ErrNoStream),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotResolved),
		errors.Is(err, capture.ErrEmptyFrame):
		return http.StatusConflict
	case errors.Is(err, source.ErrInvalidFacing):
		return http.StatusBadRequest
	case errors.Is(err, present.ErrQRUnavailable),
		errors.Is(err, present.ErrUnsupportedReference):
		return http.StatusUnprocessableEntity
	// 远程服务返回了坏的 data: 引用，同样算上游错误
	case errors.Is(err, rembg.ErrNetwork),
		errors.Is(err, capture.ErrMalformedEncoding):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
