package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opd-ai/glitter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Detector is the part of glitter.Detector the server uses.
type Detector interface {
	Stats() glitter.Stats
	Options() glitter.Options
	SetOptions(p glitter.Patch) error
	IsRunning() bool
}

// Server serves the detector's HTTP surface.
type Server struct {
	det      Detector
	hub      *Hub
	router   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the router. reg may be nil, in which case /metrics is not
// registered.
func New(det Detector, reg *prometheus.Registry) *Server {
	s := &Server{
		det: det,
		hub: NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	router.GET("/stats", s.stats)
	router.GET("/options", s.options)
	router.PATCH("/options", s.patchOptions)
	router.GET("/events", s.events)
	if reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	s.router = router

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Attach forwards d's detections, calibrations and errors to websocket
// clients.
func (s *Server) Attach(d *glitter.Detector) {
	d.OnTagsFound(func(ev glitter.TagsEvent) { s.hub.Broadcast(tagsEvent(ev)) })
	d.OnCalibrate(func(f float64) { s.hub.Broadcast(calibrateEvent(f)) })
	d.OnError(func(err error) { s.hub.Broadcast(errorEvent(err)) })
}

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "Server.Run",
			"addr":     addr,
		}).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.det.IsRunning(),
		"clients": s.hub.Clients(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.det.Stats())
}

func (s *Server) options(c *gin.Context) {
	c.JSON(http.StatusOK, s.det.Options())
}

func (s *Server) patchOptions(c *gin.Context) {
	var p glitter.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.det.SetOptions(p); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, glitter.ErrInvalidOptions) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.det.Options())
}

func (s *Server) events(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.events",
			"error":    err.Error(),
		}).Warn("WebSocket upgrade failed")
		return
	}
	s.hub.serve(conn)
}
