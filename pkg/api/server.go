// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api exposes the beamline core over HTTP: object status and
// control, procedure parameter dialogs and the flight recorder journal.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/beamline-hub/blh-core/pkg/sentry"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// Core is the part of the run loop the API serves from. The graph pointer
// may be nil before the first load and changes across reloads; handlers
// grab it once per request.
type Core interface {
	GetGraph() *loader.Graph
	GetConfigManager() config.ConfigManager
}

// Server is the HTTP surface of the beamline core.
type Server struct {
	core   Core
	fs     filesystem.Service
	logger *zap.SugaredLogger
	router *gin.Engine
}

// NewServer builds the router around the given core. The filesystem
// service is used for journal segment access and may be nil for the
// default implementation.
func NewServer(core Core, fsService filesystem.Service) *Server {
	log := logger.For(logger.ComponentAPI)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	if fsService == nil {
		fsService = filesystem.NewDefaultService()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		// Simple logging middleware
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		metrics.ObservePollTime(metrics.ComponentAPI, c.FullPath(), duration)

		if c.Writer.Status() >= http.StatusInternalServerError {
			metrics.IncErrorCount(metrics.ComponentAPI, c.FullPath())
		}

		log.Debugf("API %s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), duration)
	})

	s := &Server{
		core:   core,
		fs:     fsService,
		logger: log,
		router: router,
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/objects", s.listObjects)
		v1.GET("/objects/:role", s.getObjectDetail)
		v1.POST("/objects/:role/value", s.setValue)
		v1.POST("/objects/:role/stop", s.stopObject)
		v1.POST("/objects/:role/abort", s.abortObject)

		v1.GET("/procedures/:role/schema", s.procedureSchema)
		v1.PUT("/procedures/:role/schema", s.applyProcedureValues)
		v1.POST("/procedures/:role/prepare", s.prepareProcedure)

		v1.GET("/journal", s.listJournalSegments)
		v1.GET("/journal/:segment", s.readJournalSegment)
		v1.GET("/journal/:segment/raw", s.readJournalSegmentRaw)
	}
}

// Router exposes the handler, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Serve starts the API server in the background and returns it so the
// caller can shut it down.
func (s *Server) Serve(port int) *http.Server {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}

	go func() {
		s.logger.Infof("Starting API server on port %d", port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, s.logger)
		}
	}()

	return server
}
