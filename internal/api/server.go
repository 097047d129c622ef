package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Noah1206/BuyPilot-sub000/internal/api/middleware"
	"github.com/Noah1206/BuyPilot-sub000/internal/config"
	"github.com/Noah1206/BuyPilot-sub000/internal/importer"
	"github.com/Noah1206/BuyPilot-sub000/internal/model"
	"github.com/Noah1206/BuyPilot-sub000/internal/store"
	"github.com/Noah1206/BuyPilot-sub000/internal/translate"
	"github.com/Noah1206/BuyPilot-sub000/internal/trigger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 浏览器扩展对接的本地 HTTP 服务。
//
// 扩展通过这些接口上报地址变化、读取提取结果、触发导入。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.SlotStore
	trigger    *trigger.Trigger
	importer   *importer.Importer
	translator translate.Translator
	router     *gin.Engine
}

// NewServer 初始化 API 服务器并注册路由。
func NewServer(cfg *config.Config, logger *slog.Logger, st *store.SlotStore, tr *trigger.Trigger, im *importer.Importer, translator translate.Translator) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		trigger:    tr,
		importer:   im,
		translator: translator,
		router:     r,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	v1 := s.router.Group("/api/v1")
	v1.POST("/url-change", s.handleURLChange)
	v1.POST("/extract", s.handleExtract)
	v1.GET("/product/current", s.handleCurrentProduct)
	v1.POST("/import", s.handleImport)
	v1.GET("/jobs", s.handleListJobs)
	v1.POST("/translate", s.handleTranslate)
	v1.GET("/settings/backend-url", s.handleGetBackendURL)
	v1.PUT("/settings/backend-url", s.handleSetBackendURL)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil || s.store.Ping(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleURLChange 上报一次页面地址变化（去抖后异步提取）。
func (s *Server) handleURLChange(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	// 提取在后台跑，这里只受理；不能把请求的 ctx 带过去
	s.trigger.OnURLChange(context.WithoutCancel(c.Request.Context()), req.URL)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleExtract 同步提取指定地址并返回商品记录。
func (s *Server) handleExtract(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	record, err := s.trigger.Extract(c.Request.Context(), req.URL)
	if err != nil {
		s.logger.Warn("manual extract failed",
			slog.String("url", req.URL),
			slog.String("error", err.Error()))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleCurrentProduct 返回当前商品槽位内容。
func (s *Server) handleCurrentProduct(c *gin.Context) {
	record, err := s.store.LoadCurrentProduct(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrSlotEmpty) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no product extracted yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load current product failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

type importRequest struct {
	// Record 可选：不带时导入当前商品槽位的内容
	Record *model.ProductRecord `json:"record"`
}

// handleImport 把商品排入导入队列。
func (s *Server) handleImport(c *gin.Context) {
	var req importRequest
	// 空请求体也允许：导入当前槽位
	_ = c.ShouldBindJSON(&req)

	record := req.Record
	if record == nil {
		loaded, err := s.store.LoadCurrentProduct(c.Request.Context())
		if err != nil {
			if errors.Is(err, store.ErrSlotEmpty) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no product to import"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load current product failed"})
			return
		}
		record = loaded
	}

	job, err := s.importer.Enqueue(c.Request.Context(), record)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"job_id":      job.ID,
			"queue_depth": s.importer.QueueDepth(),
		})
	case errors.Is(err, importer.ErrDuplicateSource):
		c.JSON(http.StatusConflict, gin.H{"error": "source url already queued"})
	case errors.Is(err, importer.ErrRecentlyImported):
		c.JSON(http.StatusConflict, gin.H{"error": "source url imported recently"})
	case errors.Is(err, importer.ErrImporterClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "importer is shutting down"})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	}
}

// handleListJobs 返回队列中与近期终态的导入任务。
func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs":        s.importer.Jobs(),
		"queue_depth": s.importer.QueueDepth(),
	})
}

type translateRequest struct {
	Text string `json:"text" binding:"required"`
	From string `json:"from"`
	To   string `json:"to"`
}

// handleTranslate 翻译一段文本，翻译不可用时原样返回。
func (s *Server) handleTranslate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if s.translator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "translation is not configured"})
		return
	}
	if req.From == "" {
		req.From = s.cfg.Translate.From
	}
	if req.To == "" {
		req.To = s.cfg.Translate.To
	}

	translated := translate.OrOriginal(c.Request.Context(), s.translator, s.logger, req.Text, req.From, req.To)
	c.JSON(http.StatusOK, gin.H{"translated_text": translated})
}

func (s *Server) handleGetBackendURL(c *gin.Context) {
	backendURL, err := s.store.LoadBackendURL(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrSlotEmpty) {
			c.JSON(http.StatusOK, gin.H{"backend_url": ""})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load backend url failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend_url": backendURL})
}

type backendURLRequest struct {
	BackendURL string `json:"backend_url" binding:"required"`
}

func (s *Server) handleSetBackendURL(c *gin.Context) {
	var req backendURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backend_url is required"})
		return
	}
	if err := s.store.SaveBackendURL(c.Request.Context(), req.BackendURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save backend url failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backend_url": req.BackendURL})
}
