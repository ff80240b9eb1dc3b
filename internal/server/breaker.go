package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) BreakerStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakerReg.AllStats()})
}

func (s *Server) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if !s.breakerReg.Reset(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"type":    "not_found",
			"message": "unknown breaker: " + name,
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset", "name": name})
}
