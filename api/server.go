// Package api serves the bridge's status endpoints: liveness and readiness
// probes plus read-only views of the registered clients and bridged
// entities.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"leshan2mqtt/bridge"
	"leshan2mqtt/config"
	"leshan2mqtt/leshan"
)

// LeshanStatus is the part of the Leshan client the API needs.
type LeshanStatus interface {
	TestServer(ctx context.Context) error
	Clients(ctx context.Context) ([]leshan.RegisteredClient, error)
}

// BridgeStatus is the part of the bridge the API needs, implemented by
// bridge.Bridge.
type BridgeStatus interface {
	Entities() []bridge.EntityInfo
	MQTTConnected() bool
}

type Server struct {
	leshan LeshanStatus
	bridge BridgeStatus
	logger *logrus.Logger
	http   *http.Server
}

func NewServer(cfg config.API, leshanStatus LeshanStatus, bridgeStatus BridgeStatus, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		leshan: leshanStatus,
		bridge: bridgeStatus,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%v:%v", cfg.Host, cfg.Port),
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health/live", s.healthLive)
	router.GET("/health/ready", s.healthReady)
	router.GET("/api/clients", s.clients)
	router.GET("/api/entities", s.listEntities)
	return router
}

// Start serves the API in the background until Shutdown is called.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Status API listening on %v", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Status API stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// healthReady reports ready only while the Leshan server answers and the
// broker connection is open.
func (s *Server) healthReady(ctx *gin.Context) {
	leshanUp := s.leshan.TestServer(ctx.Request.Context()) == nil
	mqttUp := s.bridge.MQTTConnected()
	status := gin.H{"status": "ready", "leshan": leshanUp, "mqtt": mqttUp}
	if !leshanUp || !mqttUp {
		status["status"] = "degraded"
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}

func (s *Server) clients(ctx *gin.Context) {
	clients, err := s.leshan.Clients(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, clients)
}

func (s *Server) listEntities(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.bridge.Entities())
}
