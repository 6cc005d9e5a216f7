package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"gaze-tracer/internal/dwell"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/session"
	"gaze-tracer/internal/store"
	"gaze-tracer/internal/tracker"
	"gaze-tracer/pkg/geometry"
	"gaze-tracer/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxGazeBody = 1 << 20

// calibrationSession ties the API-visible session id to its store key.
type calibrationSession struct {
	ID  string
	Key store.Key
}

type sampleResult struct {
	Point  geometry.Point2D `json:"point"`
	Reason string           `json:"reason"`
}

type startRequest struct {
	UserID      string                     `json:"userId"`
	Fingerprint string                     `json:"fingerprint"`
	Viewport    geometry.Viewport          `json:"viewport"`
	Points      []session.CalibrationPoint `json:"points"`
}

type clickRequest struct {
	SessionID string       `json:"sessionId"`
	Index     *int         `json:"index" binding:"required"`
	Sample    *gaze.Sample `json:"sample"`
}

type burstRequest struct {
	SessionID string        `json:"sessionId"`
	Index     *int          `json:"index" binding:"required"`
	Samples   []gaze.Sample `json:"samples" binding:"required"`
}

type loadRequest struct {
	UserID      string            `json:"userId" binding:"required"`
	Fingerprint string            `json:"fingerprint"`
	Viewport    geometry.Viewport `json:"viewport"`
}

func (s *Server) status(c *gin.Context) {
	tr := s.tracker
	point, ok := tr.LastPoint()
	data := gin.H{
		"viewport":    tr.Viewport(),
		"paused":      tr.Paused(),
		"calibrating": tr.Calibrating(),
		"calibrated":  !tr.Holder().Load().IsIdentity(),
		"dwelling":    tr.Detector().IsDwelling(),
		"steady":      tr.Steady(),
	}
	if ok {
		data["lastPoint"] = point
	}
	if s.hub != nil {
		data["clients"] = s.hub.Clients()
	}
	if s.source != nil {
		data["droppedSamples"] = s.source.Dropped()
	}
	response.Success(c, data)
}

func (s *Server) postGaze(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxGazeBody))
	if err != nil {
		response.BadRequest(c, "Failed to read body")
		return
	}
	samples, err := gaze.DecodeSamples(body)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	out := make([]sampleResult, len(samples))
	for i, sample := range samples {
		p, reason := s.tracker.FeedGazeSample(sample)
		out[i] = sampleResult{Point: p, Reason: reason.String()}
	}
	response.Success(c, out)
}

func (s *Server) applyTransform(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	if errX != nil || errY != nil {
		response.BadRequest(c, "x and y must be numbers")
		return
	}
	p := geometry.Point2D{X: x, Y: y}
	if !p.IsFinite() {
		response.BadRequest(c, "x and y must be finite")
		return
	}
	response.Success(c, s.tracker.ApplyTransform(p))
}

func (s *Server) setViewport(c *gin.Context) {
	var v geometry.Viewport
	if err := c.ShouldBindJSON(&v); err != nil || !v.Valid() {
		response.BadRequest(c, "Invalid viewport")
		return
	}
	s.tracker.SetViewport(v)
	response.Success(c, v)
}

func (s *Server) pause(c *gin.Context) {
	s.tracker.Pause()
	response.Success(c, gin.H{"paused": true})
}

func (s *Server) resume(c *gin.Context) {
	s.tracker.Resume()
	response.Success(c, gin.H{"paused": false})
}

// fingerprintFor falls back to hashing the user agent and screen size.
func fingerprintFor(c *gin.Context, given string, v geometry.Viewport) string {
	if given != "" {
		return given
	}
	return store.Fingerprint(c.Request.UserAgent(), fmt.Sprintf("%.0fx%.0f", v.W, v.H))
}

func (s *Server) startCalibration(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if req.Viewport == (geometry.Viewport{}) {
		req.Viewport = s.tracker.Viewport()
	}

	cs := &calibrationSession{
		ID:  uuid.NewString(),
		Key: store.Key{UserID: req.UserID, Fingerprint: fingerprintFor(c, req.Fingerprint, req.Viewport)},
	}
	if err := s.tracker.StartCalibration(cs.Key, req.Viewport, req.Points); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s.mu.Lock()
	s.current = cs
	s.mu.Unlock()

	s.logger.Info("calibration session opened", zap.String("session", cs.ID), zap.String("user", req.UserID))
	response.Success(c, gin.H{
		"sessionId":   cs.ID,
		"fingerprint": cs.Key.Fingerprint,
		"status":      s.tracker.Session().Status(),
	})
}

// checkSession rejects requests naming a session other than the open one.
// An empty id is accepted.
func (s *Server) checkSession(c *gin.Context, id string) bool {
	if id == "" {
		return true
	}
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.ID != id {
		response.Conflict(c, "Unknown or expired calibration session")
		return false
	}
	return true
}

func (s *Server) calibrationClick(c *gin.Context) {
	var req clickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if !s.checkSession(c, req.SessionID) {
		return
	}
	if err := s.tracker.RecordCalibrationClick(*req.Index, req.Sample); err != nil {
		s.sessionError(c, err)
		return
	}
	response.Success(c, s.progress())
}

func (s *Server) calibrationBurst(c *gin.Context) {
	var req burstRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if !s.checkSession(c, req.SessionID) {
		return
	}
	if err := s.tracker.AddCalibrationBurst(*req.Index, req.Samples); err != nil {
		s.sessionError(c, err)
		return
	}
	response.Success(c, s.progress())
}

func (s *Server) completeCalibration(c *gin.Context) {
	res, err := s.tracker.CompleteCalibration(c.Request.Context())
	switch {
	case errors.Is(err, session.ErrNotPresenting):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		// The calibration is active; only saving it failed.
		s.logger.Error("calibration not persisted", zap.Error(err))
		c.JSON(http.StatusOK, response.Response{Code: 0, Message: "calibrated, not saved: " + err.Error(), Data: res})
		return
	}
	response.Success(c, res)
}

func (s *Server) skipCalibration(c *gin.Context) {
	s.tracker.SkipCalibration()
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	response.Success(c, s.tracker.Session().Status())
}

func (s *Server) loadCalibration(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	v := req.Viewport
	if !v.Valid() {
		v = s.tracker.Viewport()
	} else {
		s.tracker.SetViewport(v)
	}

	key := store.Key{UserID: req.UserID, Fingerprint: fingerprintFor(c, req.Fingerprint, v)}
	err := s.tracker.LoadCalibration(c.Request.Context(), key)
	switch {
	case errors.Is(err, session.ErrFingerprintMismatch):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, "Failed to load calibration")
		return
	}
	response.Success(c, gin.H{
		"calibrated": !s.tracker.Holder().Load().IsIdentity(),
		"chain":      s.tracker.Holder().Load(),
	})
}

// progress is the click/burst reply: the session snapshot plus whether
// every target is filled and complete can be called.
func (s *Server) progress() gin.H {
	sess := s.tracker.Session()
	return gin.H{"status": sess.Status(), "ready": sess.Ready()}
}

func (s *Server) calibrationStatus(c *gin.Context) {
	response.Success(c, s.tracker.Session().Status())
}

func (s *Server) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotPresenting), errors.Is(err, tracker.ErrNoGaze):
		response.Conflict(c, err.Error())
	default:
		response.BadRequest(c, err.Error())
	}
}

func (s *Server) activeDwell(c *gin.Context) {
	ev := s.tracker.ActiveDwell()
	response.Success(c, gin.H{
		"state":    stateName(s.tracker.Detector().State()),
		"dwelling": s.tracker.Detector().IsDwelling(),
		"event":    ev,
	})
}

func stateName(st dwell.State) string {
	switch st.(type) {
	case dwell.Accumulating:
		return "accumulating"
	case dwell.Dwelling:
		return "dwelling"
	default:
		return "idle"
	}
}

func (s *Server) dismissDwell(c *gin.Context) {
	s.tracker.DismissDwell()
	response.Success(c, nil)
}

func (s *Server) setLayout(c *gin.Context) {
	var l dwell.Layout
	if err := c.ShouldBindJSON(&l); err != nil {
		response.BadRequest(c, "Invalid layout")
		return
	}
	s.tracker.SetLayout(l)
	response.Success(c, gin.H{"elements": len(l.Elements), "frames": len(l.Frames)})
}
