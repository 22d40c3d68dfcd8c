// Package api exposes the print service over HTTP and WebSocket
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/printer-bridge/internal/ports"
	"github.com/thereceipt/printer-bridge/internal/printer"
	"github.com/thereceipt/printer-bridge/internal/receipt"
	"github.com/thereceipt/printer-bridge/internal/service"
)

// Server is the API server
type Server struct {
	router    *gin.Engine
	service   *service.Service
	manager   *printer.Manager
	discovery ports.Lister
	hub       *Hub
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates a new API server. hub may be nil when no WebSocket
// clients are wanted.
func NewServer(svc *service.Service, manager *printer.Manager, discovery ports.Lister, hub *Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	server := &Server{
		router:    router,
		service:   svc,
		manager:   manager,
		discovery: discovery,
		hub:       hub,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.POST("/print", s.handlePrint)
	s.router.POST("/print/text", s.handlePrintText)
	s.router.GET("/ports", s.handleGetPorts)
	s.router.GET("/printer", s.handleGetPrinter)

	if s.hub != nil {
		s.router.GET("/ws", s.handleWebSocket)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

type printRequest struct {
	receipt.Order
	NoCut bool `json:"semCorte"`
}

// handlePrint prints an order receipt and waits for the outcome
func (s *Server) handlePrint(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"success": false, "error": err.Error()})
		return
	}

	var opts []receipt.Option
	if req.NoCut {
		opts = append(opts, receipt.WithoutCut())
	}

	res := s.service.Receive(c.Request.Context(), req.Order, opts...)
	c.JSON(statusFor(res), res)
}

// handlePrintText prints free text
func (s *Server) handlePrintText(c *gin.Context) {
	var req struct {
		Text  string `json:"text" binding:"required"`
		NoCut bool   `json:"semCorte"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"success": false, "error": "text is required"})
		return
	}

	var opts []receipt.Option
	if req.NoCut {
		opts = append(opts, receipt.WithoutCut())
	}

	res := s.service.ReceiveText(c.Request.Context(), req.Text, opts...)
	c.JSON(statusFor(res), res)
}

// statusFor maps a print outcome to its HTTP status
func statusFor(res service.PrintResult) int {
	if res.Success {
		return http.StatusOK
	}

	var encErr *receipt.EncodingError
	switch {
	case errors.As(res.Err, &encErr):
		return http.StatusBadRequest
	case errors.Is(res.Err, service.ErrQueueFull),
		errors.Is(res.Err, service.ErrStopped),
		errors.Is(res.Err, context.Canceled),
		errors.Is(res.Err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// handleGetPorts returns the serial ports currently present
func (s *Server) handleGetPorts(c *gin.Context) {
	list, err := s.discovery.ListPorts()
	if err != nil {
		s.logger.Error("port discovery failed", zap.Error(err))
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	c.JSON(200, gin.H{"ports": list})
}

// handleGetPrinter returns the connection status
func (s *Server) handleGetPrinter(c *gin.Context) {
	status := s.manager.Status()

	c.JSON(200, gin.H{
		"state":     status.State.String(),
		"port":      status.Port,
		"baud":      status.Baud,
		"model_id":  status.ModelID,
		"last_code": status.LastCode,
	})
}

// Run starts the API server and blocks until it stops
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
