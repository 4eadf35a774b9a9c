package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"respirosync/internal/models"
	"respirosync/internal/view"
)

// Sampler 当前指标查询（engine.Engine 实现）
type Sampler interface {
	CurrentMetrics() (*models.SleepMetrics, error)
}

// StatusResponse /api/v1/status 响应
type StatusResponse struct {
	Running bool                 `json:"running"`
	Screen  string               `json:"screen"`
	Warning string               `json:"warning,omitempty"`
	Metrics *models.SleepMetrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// NewRouter 创建监控路由：/health、/metrics、/api/v1/status
func NewRouter(gatherer prometheus.Gatherer, sampler Sampler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/api/v1/status", func(c *gin.Context) {
		m, err := sampler.CurrentMetrics()
		screen := view.Render(m, err)

		resp := StatusResponse{
			Running: screen.Running,
			Screen:  screen.String(),
			Warning: screen.Warning,
		}
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Metrics = m
		}
		c.JSON(http.StatusOK, resp)
	})

	return router
}

// Server 监控 HTTP 服务
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer 创建监控 HTTP 服务
func NewServer(addr string, gatherer prometheus.Gatherer, sampler Sampler, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(gatherer, sampler),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start 在后台监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("Monitoring server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Monitoring server failed", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
