package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"trading-worker/internal/events"
	"trading-worker/internal/job"
)

type enqueueJobRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type breakerRequest struct {
	Reason string `json:"reason"`
}

type listTradesQuery struct {
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}

func (s *Server) listJobs(c *gin.Context) {
	state := job.State(strings.ToLower(c.Query("state")))
	if state != "" && !state.Valid() {
		respondError(c, http.StatusBadRequest, "INVALID_STATE", "unknown job state "+strconv.Quote(string(state)))
		return
	}
	jobs := s.dispatcher.List(state)
	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"count":  len(jobs),
		"counts": s.dispatcher.Counts(),
		"queued": s.dispatcher.QueueLen(),
	})
}

func (s *Server) getJob(c *gin.Context) {
	env, ok := s.dispatcher.Get(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) enqueueJob(c *gin.Context) {
	var req enqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	env, err := s.dispatcher.Enqueue(job.Type(strings.ToUpper(req.Type)), payload)
	switch {
	case errors.Is(err, job.ErrUnknownType):
		respondError(c, http.StatusBadRequest, "UNKNOWN_JOB_TYPE", err.Error())
		return
	case errors.Is(err, job.ErrInvalidPayload):
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	case errors.Is(err, job.ErrClosed):
		respondError(c, http.StatusServiceUnavailable, "WORKER_STOPPING", err.Error())
		return
	case err != nil:
		s.log.Errorf("enqueue %s failed: %v", req.Type, err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.log.Infof("operator %s enqueued %s job %s", CurrentOperator(c), env.Type, env.ID)
	c.JSON(http.StatusAccepted, env)
}

func (s *Server) getBreaker(c *gin.Context) {
	c.JSON(http.StatusOK, s.breaker.Status())
}

func (s *Server) triggerBreaker(c *gin.Context) {
	var req breakerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual halt"
	}
	by := "operator:" + CurrentOperator(c)

	changed := s.breaker.Trigger(c.Request.Context(), reason, by)
	if changed {
		s.bus.Publish(events.EventBreakerTripped, events.BreakerChange{Reason: reason, By: by})
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "status": s.breaker.Status()})
}

func (s *Server) resetBreaker(c *gin.Context) {
	by := "operator:" + CurrentOperator(c)
	changed := s.breaker.Reset(c.Request.Context(), by)
	if changed {
		s.bus.Publish(events.EventBreakerReset, events.BreakerChange{By: by})
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed, "status": s.breaker.Status()})
}

func (s *Server) getWorker(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":                 s.worker.Snapshot(),
		"heartbeat_age_seconds": s.worker.HeartbeatAge().Seconds(),
		"queue_length":          s.dispatcher.QueueLen(),
	})
}

func (s *Server) getAccount(c *gin.Context) {
	snap := s.account.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"account":         snap,
		"equity":          snap.Equity(),
		"initial_balance": s.account.InitialBalance(),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	if s.trades == nil {
		respondError(c, http.StatusNotFound, "JOURNAL_DISABLED", "trade journal is disabled")
		return
	}
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()

	ctx := c.Request.Context()
	trades, err := s.trades.Recent(ctx, q.Symbol, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	summary, err := s.trades.Summary(ctx, q.Symbol)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "summary": summary})
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"limits":         s.risk.Limits(),
		"stats":          s.risk.Stats(),
		"breaker_active": s.breaker.IsActive(),
	})
}

func (s *Server) getLatency(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) getMarket(c *gin.Context) {
	prices := map[string]float64{}
	if s.market != nil {
		prices = s.market.All()
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices, "count": len(prices)})
}

func (s *Server) getStrategies(c *gin.Context) {
	names := []string{}
	if s.strategies != nil {
		names = s.strategies.Names()
	}
	c.JSON(http.StatusOK, gin.H{"strategies": names})
}
