package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is reported by the ping endpoint.
var Version = "dev"

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconsole",
		"version": Version,
	})
}
