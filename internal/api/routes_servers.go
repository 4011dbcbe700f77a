package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/protocol"
)

type serverView struct {
	Name                string `json:"name"`
	Address             string `json:"address"`
	Segmented           bool   `json:"segmented"`
	IgnoreLeadingPacket bool   `json:"ignore_leading_packet"`
	TimeoutMS           int    `json:"timeout_ms"`
}

type executeRequest struct {
	Command            string `json:"command" binding:"required"`
	Segmented          *bool  `json:"segmented"`
	PreSentinelDelayMS *int   `json:"pre_sentinel_delay_ms"`
}

type executeResponse struct {
	Server     string `json:"server"`
	Command    string `json:"command"`
	ResponseID int32  `json:"response_id"`
	Body       string `json:"body"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) handleListServers(c *gin.Context) {
	names := s.cfg.ServerNames()
	out := make([]serverView, 0, len(names))
	for _, name := range names {
		p, err := s.cfg.Server(name)
		if err != nil {
			continue
		}
		out = append(out, serverView{
			Name:                name,
			Address:             p.Address(),
			Segmented:           p.Segmented,
			IgnoreLeadingPacket: p.SkipLeadingPacket(),
			TimeoutMS:           p.TimeoutMS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"servers": out})
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON with a non-empty command"})
		return
	}

	opts := dispatch.RunOptions{Segmented: req.Segmented, Trigger: events.TriggerAPI}
	if req.PreSentinelDelayMS != nil {
		if *req.PreSentinelDelayMS < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pre_sentinel_delay_ms cannot be negative"})
			return
		}
		d := time.Duration(*req.PreSentinelDelayMS) * time.Millisecond
		opts.PreSentinelDelay = &d
	}

	name := c.Param("name")
	res, err := s.runner.Run(c.Request.Context(), name, req.Command, opts)
	if err != nil {
		status, kind := statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}

	c.JSON(http.StatusOK, executeResponse{
		Server:     res.Server,
		Command:    res.Command,
		ResponseID: res.Response.ID,
		Body:       res.Response.Body,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(c.Request.Context(), c.Query("server"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks are disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": s.health.Snapshot()})
}

// statusFor maps a dispatch error to an HTTP status and a short kind name.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, config.ErrUnknownServer):
		return http.StatusNotFound, "unknown_server"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "canceled"
	}

	kind := protocol.KindOf(err)
	switch kind {
	case protocol.KindReadTimeout, protocol.KindWriteTimeout:
		return http.StatusGatewayTimeout, kind.String()
	case protocol.KindEncoding:
		return http.StatusBadRequest, kind.String()
	case protocol.KindUnknown:
		return http.StatusBadGateway, "connection"
	default:
		return http.StatusBadGateway, kind.String()
	}
}
