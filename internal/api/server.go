// Package api serves the poller's HTTP surface: a small HTML dashboard, JSON
// endpoints for the tunnel, the meter and the background poller, and the
// Prometheus metrics page.
package api

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/poll"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
	"github.com/prognoza/umg-vpn-poller/internal/vpn"
)

// VPN is the tunnel surface the API drives.
type VPN interface {
	Status(ctx context.Context) vpn.ConnectionStatus
	Connect(ctx context.Context) vpn.ConnectionStatus
	Disconnect(ctx context.Context) error
}

// Poller is the background task surface.
type Poller interface {
	Start(opts supervisor.Options) error
	Stop() bool
	Status() supervisor.Status
}

// Deps are the components the handlers call. Every field except Metrics
// and Logger is required.
type Deps struct {
	VPN    VPN
	Health func(ctx context.Context) device.Health
	Poll   func(ctx context.Context, target *time.Time) (*poll.Payload, error)
	Poller Poller
	// Latest returns the newest export file and its last row.
	Latest func() (string, export.Row, error)
	// Defaults fill fields missing from a poller start request.
	Defaults supervisor.Options
	Metrics  http.Handler
	Logger   *slog.Logger
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Latest == nil {
		d.Latest = func() (string, export.Row, error) {
			return "", export.Row{}, fault.New(fault.KindNotFound, "api.latest", "no exports directory configured")
		}
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))
	r.SetHTMLTemplate(template.Must(template.New("index").Funcs(templateFuncs).Parse(indexTemplate)))

	h := &handler{Deps: d}
	r.GET("/", h.index)
	r.GET("/status", h.status)
	r.GET("/health", h.health)
	r.GET("/latest", h.latest)
	r.POST("/run", h.run)

	g := r.Group("/vpn")
	g.POST("/connect", h.connect)
	g.POST("/disconnect", h.disconnect)

	p := r.Group("/poller")
	p.GET("", h.pollerStatus)
	p.POST("/start", h.pollerStart)
	p.POST("/stop", h.pollerStop)

	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok\n") })

	return r
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindConflict:
		return http.StatusConflict
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindTransientNetwork:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func jsonError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if kind := fault.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	c.JSON(statusFor(err), body)
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.VPN.Status(c.Request.Context()))
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.Health(c.Request.Context()))
}

func (h *handler) connect(c *gin.Context) {
	st := h.VPN.Connect(c.Request.Context())
	code := http.StatusOK
	if !st.IsConnected {
		code = statusFor(fault.New(st.ErrorKind, "", st.Error))
	}
	c.JSON(code, st)
}

func (h *handler) disconnect(c *gin.Context) {
	if err := h.VPN.Disconnect(c.Request.Context()); err != nil {
		h.Logger.Warn("api_disconnect_error", "error", err)
	}
	c.JSON(http.StatusOK, h.VPN.Status(c.Request.Context()))
}

func (h *handler) run(c *gin.Context) {
	payload, err := h.Poll(c.Request.Context(), nil)
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *handler) latest(c *gin.Context) {
	path, row, err := h.Latest()
	if err != nil {
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "row": row})
}

func (h *handler) pollerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Poller.Status())
}

// startRequest uses strings for durations so callers can send "60s".
type startRequest struct {
	Interval      string `json:"interval"`
	Cycles        *int   `json:"cycles"`
	AlignToMinute *bool  `json:"align_to_minute"`
}

func (h *handler) pollerStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
	}

	opts := h.Defaults
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval: " + err.Error()})
			return
		}
		opts.Interval = d
	}
	if req.Cycles != nil {
		opts.Cycles = *req.Cycles
	}
	if req.AlignToMinute != nil {
		opts.AlignToMinute = *req.AlignToMinute
	}

	if err := h.Poller.Start(opts); err != nil {
		if fault.KindOf(err) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		jsonError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.Poller.Status())
}

func (h *handler) pollerStop(c *gin.Context) {
	stopped := h.Poller.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": stopped, "status": h.Poller.Status()})
}

// Server runs the router on an http.Server.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server for router on addr.
func NewServer(addr string, router http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			// /run and /vpn/connect can take a full connect timeout.
			WriteTimeout: 3 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start serves in a goroutine. Returns immediately; errors other than a
// clean shutdown are logged.
func (s *Server) Start() {
	s.logger.Info("api_server_starting", "addr", s.addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api_server_error", "error", err)
		}
	}()
}

// ListenAndServe serves until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api_server_starting", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("api_server_shutting_down")
	return s.server.Shutdown(ctx)
}
