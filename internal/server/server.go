// Package server exposes the tracker over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"gaze-tracer/internal/dispatch"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/tracker"
	"gaze-tracer/internal/version"
	"gaze-tracer/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr    string
	Mode    string
	Tracker *tracker.Tracker
	Hub     *dispatch.Hub
	// Source receives samples from websocket clients. May be nil when
	// samples arrive some other way.
	Source *gaze.WebSocketSource
	Logger *zap.Logger
}

// Server is the HTTP front end.
type Server struct {
	tracker  *tracker.Tracker
	hub      *dispatch.Hub
	source   *gaze.WebSocketSource
	logger   *zap.Logger
	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *calibrationSession
	ctx     context.Context
	cancel  context.CancelFunc
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		tracker: opts.Tracker,
		hub:     opts.Hub,
		source:  opts.Source,
		logger:  logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.logger), CORS())
	s.routes(r)
	s.engine = r
	s.http = &http.Server{Addr: opts.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/ws", s.serveWS)

	api := r.Group("/api")
	{
		api.GET("/status", s.status)
		api.POST("/gaze", s.postGaze)
		api.GET("/transform/apply", s.applyTransform)
		api.POST("/viewport", s.setViewport)
		api.POST("/pause", s.pause)
		api.POST("/resume", s.resume)

		cal := api.Group("/calibration")
		{
			cal.POST("/start", s.startCalibration)
			cal.POST("/click", s.calibrationClick)
			cal.POST("/burst", s.calibrationBurst)
			cal.POST("/complete", s.completeCalibration)
			cal.POST("/skip", s.skipCalibration)
			cal.POST("/load", s.loadCalibration)
			cal.GET("/status", s.calibrationStatus)
		}

		dw := api.Group("/dwell")
		{
			dw.GET("", s.activeDwell)
			dw.POST("/dismiss", s.dismissDwell)
		}

		api.POST("/layout", s.setLayout)
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "No route for "+c.Request.URL.Path)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server starting", zap.String("addr", s.http.Addr), zap.String("version", version.Version))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes websocket readers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"build":  version.Get(),
	})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var client *dispatch.Client
	if s.hub != nil {
		client = s.hub.Attach(conn)
		defer s.hub.Detach(client)
	}

	if s.source != nil {
		if err := s.source.Serve(s.ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("websocket closed", zap.Error(err))
		}
		return
	}

	// Outbound only: drain control frames until the peer goes away.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
