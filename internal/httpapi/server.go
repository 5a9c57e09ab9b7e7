// Package httpapi exposes the service over HTTP. The handlers are a thin
// boundary: parse, delegate, render.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"candlewatch/internal/domain"
	"candlewatch/internal/observability"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/storage"
	"candlewatch/internal/workers"
)

// Server wires the HTTP routes to the core components.
type Server struct {
	orch     *orchestrator.Orchestrator
	alerts   storage.AlertStore
	triggers storage.TriggerStore
	jobs     storage.BackfillJobStore
	backfill *workers.BackfillWorker
	manager  *workers.Manager
	symbols  map[string]domain.Symbol // keyed by ticker
	log      logrus.FieldLogger
}

// NewServer creates a Server.
func NewServer(
	orch *orchestrator.Orchestrator,
	alerts storage.AlertStore,
	triggers storage.TriggerStore,
	jobs storage.BackfillJobStore,
	backfill *workers.BackfillWorker,
	manager *workers.Manager,
	symbols []domain.Symbol,
	log logrus.FieldLogger,
) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	byTicker := make(map[string]domain.Symbol, len(symbols))
	for _, s := range symbols {
		byTicker[s.Ticker] = s
	}
	return &Server{
		orch:     orch,
		alerts:   alerts,
		triggers: triggers,
		jobs:     jobs,
		backfill: backfill,
		manager:  manager,
		symbols:  byTicker,
		log:      log.WithField("component", "httpapi"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	api := r.Group("/api")
	{
		api.GET("/candles", s.handleGetCandles)

		api.GET("/alerts", s.handleListAlerts)
		api.POST("/alerts", s.handleCreateAlert)
		api.GET("/alerts/:id", s.handleGetAlert)
		api.DELETE("/alerts/:id", s.handleDeleteAlert)
		api.GET("/alerts/:id/triggers", s.handleListTriggers)

		api.POST("/backfill", s.handleCreateBackfill)
		api.GET("/backfill/:id", s.handleGetBackfill)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// candleQuery binds GET /api/candles parameters.
type candleQuery struct {
	Ticker    string `form:"ticker" binding:"required"`
	Interval  string `form:"interval" binding:"required"`
	Start     string `form:"start" binding:"required"`
	End       string `form:"end" binding:"required"`
	LocalOnly bool   `form:"local_only"`
}

func (s *Server) handleGetCandles(c *gin.Context) {
	var q candleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sym, ok := s.symbols[q.Ticker]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown ticker %q", q.Ticker)})
		return
	}

	start, err := time.Parse(time.RFC3339, q.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, q.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
		return
	}

	candles, err := s.orch.GetCandles(c.Request.Context(), orchestrator.Request{
		SymbolID:  sym.ID,
		Ticker:    sym.Ticker,
		Interval:  q.Interval,
		Start:     start,
		End:       end,
		LocalOnly: q.LocalOnly,
	})
	if err != nil {
		s.log.WithError(err).Error("candle query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "candle query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"candles": renderCandles(candles)})
}

// alertRequest binds POST /api/alerts bodies.
type alertRequest struct {
	SymbolID        int64              `json:"symbol_id" binding:"required"`
	Condition       string             `json:"condition" binding:"required"`
	Threshold       float64            `json:"threshold"`
	IndicatorName   string             `json:"indicator_name"`
	IndicatorField  string             `json:"indicator_field"`
	IndicatorParams map[string]float64 `json:"indicator_params"`
	CooldownMinutes int                `json:"cooldown_minutes"`
	Mode            string             `json:"trigger_mode"`
	MessageUp       string             `json:"message_up"`
	MessageDown     string             `json:"message_down"`
}

func (s *Server) handleCreateAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := domain.TriggerMode(req.Mode)
	if mode == "" {
		mode = domain.TriggerOncePerClose
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		ID:              uuid.NewString(),
		SymbolID:        req.SymbolID,
		Condition:       domain.AlertCondition(req.Condition),
		Threshold:       req.Threshold,
		IndicatorName:   req.IndicatorName,
		IndicatorField:  req.IndicatorField,
		IndicatorParams: req.IndicatorParams,
		CooldownMinutes: req.CooldownMinutes,
		Mode:            mode,
		IsActive:        true,
		MessageUp:       req.MessageUp,
		MessageDown:     req.MessageDown,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.alerts.Insert(c.Request.Context(), alert); err != nil {
		s.log.WithError(err).Error("alert insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert insert failed"})
		return
	}

	c.JSON(http.StatusCreated, renderAlert(alert))
}

func (s *Server) handleListAlerts(c *gin.Context) {
	var q struct {
		SymbolID int64 `form:"symbol_id" binding:"required"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active, err := s.alerts.GetActiveBySymbol(c.Request.Context(), q.SymbolID)
	if err != nil {
		s.log.WithError(err).Error("alert list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert list failed"})
		return
	}

	out := make([]gin.H, 0, len(active))
	for _, a := range active {
		out = append(out, renderAlert(a))
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func (s *Server) handleGetAlert(c *gin.Context) {
	alert, err := s.alerts.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("alert read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert read failed"})
		return
	}
	c.JSON(http.StatusOK, renderAlert(alert))
}

func (s *Server) handleDeleteAlert(c *gin.Context) {
	err := s.alerts.Deactivate(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("alert deactivate failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "alert deactivate failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListTriggers(c *gin.Context) {
	triggers, err := s.triggers.GetByAlertID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.log.WithError(err).Error("trigger list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trigger list failed"})
		return
	}

	out := make([]gin.H, 0, len(triggers))
	for _, tr := range triggers {
		out = append(out, gin.H{
			"id":              tr.ID,
			"alert_id":        tr.AlertID,
			"triggered_at":    tr.TriggeredAt,
			"observed_value":  tr.ObservedValue,
			"trigger_type":    tr.TriggerType,
			"message":         tr.Message,
			"delivery_status": tr.DeliveryStatus,
			"retry_count":     tr.RetryCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"triggers": out})
}

// backfillRequest binds POST /api/backfill bodies.
type backfillRequest struct {
	Ticker   string `json:"ticker" binding:"required"`
	Interval string `json:"interval" binding:"required"`
	Start    string `json:"start" binding:"required"`
	End      string `json:"end" binding:"required"`
}

func (s *Server) handleCreateBackfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sym, ok := s.symbols[req.Ticker]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown ticker %q", req.Ticker)})
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not precede start"})
		return
	}

	now := time.Now().UTC()
	job := &domain.BackfillJob{
		ID:        uuid.NewString(),
		SymbolID:  sym.ID,
		Ticker:    sym.Ticker,
		Interval:  req.Interval,
		Start:     start,
		End:       end,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Insert(c.Request.Context(), job); err != nil {
		s.log.WithError(err).Error("backfill job insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backfill job insert failed"})
		return
	}

	// One task per series: a new request for the same series replaces the
	// running backfill.
	taskName := fmt.Sprintf("backfill:%d:%s", sym.ID, job.Interval)
	jobID := job.ID
	s.manager.Start(taskName, func(ctx context.Context) {
		if err := s.backfill.RunJob(ctx, jobID); err != nil {
			s.log.WithError(err).WithField("job_id", jobID).Error("backfill job errored")
		}
	})

	c.JSON(http.StatusAccepted, renderJob(job))
}

func (s *Server) handleGetBackfill(c *gin.Context) {
	job, err := s.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "backfill job not found"})
		return
	}
	if err != nil {
		s.log.WithError(err).Error("backfill job read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backfill job read failed"})
		return
	}
	c.JSON(http.StatusOK, renderJob(job))
}

func renderCandles(candles []*domain.Candle) []gin.H {
	out := make([]gin.H, 0, len(candles))
	for _, cd := range candles {
		out = append(out, gin.H{
			"ts":     cd.Ts,
			"open":   cd.Open,
			"high":   cd.High,
			"low":    cd.Low,
			"close":  cd.Close,
			"volume": cd.Volume,
		})
	}
	return out
}

func renderAlert(a *domain.Alert) gin.H {
	return gin.H{
		"id":                a.ID,
		"symbol_id":         a.SymbolID,
		"condition":         a.Condition,
		"threshold":         a.Threshold,
		"indicator_name":    a.IndicatorName,
		"indicator_field":   a.IndicatorField,
		"indicator_params":  a.IndicatorParams,
		"cooldown_minutes":  a.CooldownMinutes,
		"trigger_mode":      a.Mode,
		"is_active":         a.IsActive,
		"last_triggered_at": a.LastTriggeredAt,
		"created_at":        a.CreatedAt,
	}
}

func renderJob(j *domain.BackfillJob) gin.H {
	return gin.H{
		"id":            j.ID,
		"symbol_id":     j.SymbolID,
		"ticker":        j.Ticker,
		"interval":      j.Interval,
		"start":         j.Start,
		"end":           j.End,
		"status":        j.Status,
		"error_message": j.ErrorMessage,
	}
}
