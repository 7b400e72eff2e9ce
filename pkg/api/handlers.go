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

package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beamline-hub/blh-core/pkg/control"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/paramschema"
)

// valueSetter is the write surface of continuous actuators.
type valueSetter interface {
	SetValue(ctx context.Context, v float64, timeout time.Duration) error
}

// positionSetter is the write surface of discrete positioners.
type positionSetter interface {
	SetPosition(ctx context.Context, name string, timeout time.Duration) error
	Positions() []string
}

// procedure is the parameter dialog surface of procedure objects.
type procedure interface {
	Dialog() *paramschema.Dialog
	CurrentValues() map[string]any
	Validate(proposed map[string]any) (map[string]any, error)
	Prepare(ctx context.Context, proposed map[string]any, timeout time.Duration) (map[string]any, error)
}

// writeError maps hardware errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case hwerr.IsInvalidValue(err):
		status = http.StatusBadRequest
	case hwerr.IsReadOnly(err):
		status = http.StatusForbidden
	case hwerr.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case hwerr.IsFault(err), hwerr.IsCommunication(err):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// liveGraph returns the current graph, answering 503 while none is loaded.
func (s *Server) liveGraph(c *gin.Context) (*loader.Graph, bool) {
	g := s.core.GetGraph()
	if g == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no object graph loaded"})

		return nil, false
	}

	return g, true
}

func (s *Server) object(c *gin.Context) (hwobj.Object, bool) {
	g, ok := s.liveGraph(c)
	if !ok {
		return nil, false
	}

	role := c.Param("role")

	obj, ok := g.ByRole(role)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown role %q", role)})

		return nil, false
	}

	return obj, true
}

func (s *Server) health(c *gin.Context) {
	g := s.core.GetGraph()
	if g == nil {
		c.JSON(http.StatusOK, gin.H{"status": "loading"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"session":   g.SessionID(),
		"loaded_at": g.LoadedAt(),
		"objects":   g.Len(),
	})
}

func (s *Server) listObjects(c *gin.Context) {
	g, ok := s.liveGraph(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":   g.SessionID(),
		"loaded_at": g.LoadedAt(),
		"objects":   g.Snapshot(),
	})
}

// objectDetail is one snapshot row plus what only the detail view carries.
type objectDetail struct {
	loader.ObjectStatus
	Positions []string `json:"positions,omitempty"`
}

func (s *Server) getObjectDetail(c *gin.Context) {
	g, ok := s.liveGraph(c)
	if !ok {
		return
	}

	role := c.Param("role")

	obj, ok := g.ByRole(role)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown role %q", role)})

		return
	}

	detail := objectDetail{}

	for _, status := range g.Snapshot() {
		if status.Role == role {
			detail.ObjectStatus = status

			break
		}
	}

	if p, ok := obj.(positionSetter); ok {
		detail.Positions = p.Positions()
	}

	c.JSON(http.StatusOK, detail)
}

// setValueRequest moves an actuator. Exactly one of value and position is
// expected; timeout_ms zero dispatches without waiting for the move to
// settle.
type setValueRequest struct {
	Value     *float64 `json:"value"`
	Position  string   `json:"position"`
	TimeoutMS int64    `json:"timeout_ms"`
}

func (s *Server) setValue(c *gin.Context) {
	obj, ok := s.object(c)
	if !ok {
		return
	}

	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	ctx := c.Request.Context()

	switch {
	case req.Position != "":
		p, ok := obj.(positionSetter)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("object %q has no named positions", obj.Role())})

			return
		}

		if err := p.SetPosition(ctx, req.Position, timeout); err != nil {
			writeError(c, err)

			return
		}
	case req.Value != nil:
		v, ok := obj.(valueSetter)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("object %q is not an actuator", obj.Role())})

			return
		}

		if err := v.SetValue(ctx, *req.Value, timeout); err != nil {
			writeError(c, err)

			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either value or position is required"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":  obj.Role(),
		"state": string(obj.State()),
	})
}

func (s *Server) stopObject(c *gin.Context) {
	obj, ok := s.object(c)
	if !ok {
		return
	}

	if err := obj.Stop(c.Request.Context()); err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":  obj.Role(),
		"state": string(obj.State()),
	})
}

func (s *Server) abortObject(c *gin.Context) {
	obj, ok := s.object(c)
	if !ok {
		return
	}

	if err := obj.Abort(c.Request.Context()); err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"role":  obj.Role(),
		"state": string(obj.State()),
	})
}

func (s *Server) getProcedure(c *gin.Context) (procedure, bool) {
	obj, ok := s.object(c)
	if !ok {
		return nil, false
	}

	proc, ok := obj.(procedure)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("object %q is not a procedure", obj.Role())})

		return nil, false
	}

	return proc, true
}

func (s *Server) procedureSchema(c *gin.Context) {
	proc, ok := s.getProcedure(c)
	if !ok {
		return
	}

	dialog := proc.Dialog()
	if dialog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "procedure has no parameter dialog"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schema":    dialog.Schema,
		"ui_schema": dialog.UISchema,
		"values":    proc.CurrentValues(),
	})
}

func (s *Server) applyProcedureValues(c *gin.Context) {
	proc, ok := s.getProcedure(c)
	if !ok {
		return
	}

	var proposed map[string]any
	if err := c.ShouldBindJSON(&proposed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	effective, err := proc.Validate(proposed)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"values": effective})
}

type prepareRequest struct {
	Values    map[string]any `json:"values"`
	TimeoutMS int64          `json:"timeout_ms"`
}

func (s *Server) prepareProcedure(c *gin.Context) {
	proc, ok := s.getProcedure(c)
	if !ok {
		return
	}

	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})

		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	effective, err := proc.Prepare(c.Request.Context(), req.Values, timeout)
	if err != nil {
		writeError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"values": effective})
}

// journalDir resolves the configured journal directory, answering the
// request itself when journaling is unavailable.
func (s *Server) journalDir(c *gin.Context) (string, bool) {
	manager := s.core.GetConfigManager()
	if manager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "configuration unavailable"})

		return "", false
	}

	cfg, err := manager.GetConfig(c.Request.Context(), 0)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "configuration unavailable: " + err.Error()})

		return "", false
	}

	if cfg.Core.JournalDir == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "journaling is disabled"})

		return "", false
	}

	return cfg.Core.JournalDir, true
}

// segmentPath validates a segment name against path traversal and resolves
// it inside the journal directory.
func segmentPath(c *gin.Context, dir string) (string, bool) {
	name := c.Param("segment")
	if name != filepath.Base(name) || !strings.HasPrefix(name, "journal-") || !strings.HasSuffix(name, ".jsonl.zst") {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid segment name %q", name)})

		return "", false
	}

	return filepath.Join(dir, name), true
}

type journalSegment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s *Server) listJournalSegments(c *gin.Context) {
	dir, ok := s.journalDir(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	paths, err := s.fs.Glob(ctx, filepath.Join(dir, "journal-*.jsonl.zst"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	sort.Strings(paths)

	segments := make([]journalSegment, 0, len(paths))

	for _, path := range paths {
		segment := journalSegment{Name: filepath.Base(path)}

		if info, err := s.fs.Stat(ctx, path); err == nil {
			segment.Size = info.Size()
		}

		segments = append(segments, segment)
	}

	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

func (s *Server) readJournalSegment(c *gin.Context) {
	dir, ok := s.journalDir(c)
	if !ok {
		return
	}

	path, ok := segmentPath(c, dir)
	if !ok {
		return
	}

	exists, err := s.fs.PathExists(c.Request.Context(), path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such segment"})

		return
	}

	entries, err := control.ReadSegment(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// readJournalSegmentRaw streams a segment in compressed form, chunk by
// chunk. Clients poll with the returned next_offset until eof; the active
// segment keeps growing, so eof there is only ever provisional.
func (s *Server) readJournalSegmentRaw(c *gin.Context) {
	dir, ok := s.journalDir(c)
	if !ok {
		return
	}

	path, ok := segmentPath(c, dir)
	if !ok {
		return
	}

	from, err := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if err != nil || from < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})

		return
	}

	ctx := c.Request.Context()

	exists, err := s.fs.PathExists(ctx, path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such segment"})

		return
	}

	chunk, size, err := s.fs.ReadFileRange(ctx, path, from)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunk":       chunk,
		"next_offset": size,
		"eof":         from+int64(len(chunk)) >= size,
	})
}
