package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) TrackExecution(c *gin.Context) {
	result, err := s.meterSvc.TrackExecution(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, result)
}

func (s *Server) GetExecutionCount(c *gin.Context) {
	result, err := s.meterSvc.GetExecutionCount(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CanExecute(c *gin.Context) {
	result, err := s.meterSvc.CanExecute(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
