package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/flowgate/internal/allocation/domain"
	"github.com/smallbiznis/flowgate/internal/plan"
)

type setAllocationRequest struct {
	OrgID        string `json:"org_id" binding:"required"`
	DepartmentID string `json:"department_id"`
	MemberID     string `json:"member_id"`
	Level        string `json:"level" binding:"required"`
	Dimension    string `json:"dimension" binding:"required"`
	Value        *int64 `json:"value"`
}

func (s *Server) SetAllocation(c *gin.Context) {
	var req setAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, allocationdomain.ErrInvalidDimension)
		return
	}

	record, err := s.allocSvc.SetAllocation(c.Request.Context(), allocationdomain.SetAllocationRequest{
		OrgID:        req.OrgID,
		DepartmentID: req.DepartmentID,
		MemberID:     req.MemberID,
		Level:        allocationdomain.Level(req.Level),
		Dimension:    plan.Dimension(req.Dimension),
		Value:        req.Value,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) ListAllocations(c *gin.Context) {
	items, err := s.allocSvc.ListAllocations(
		c.Request.Context(),
		c.Query("parent_id"),
		plan.Dimension(c.Query("dimension")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": items})
}

func (s *Server) GetRemaining(c *gin.Context) {
	resp, err := s.allocSvc.GetRemaining(c.Request.Context(), allocationdomain.EffectiveLimitRequest{
		OrgID:        c.Query("org_id"),
		DepartmentID: c.Query("department_id"),
		Dimension:    plan.Dimension(c.Query("dimension")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetEffectiveLimit(c *gin.Context) {
	limit, err := s.allocSvc.ResolveEffectiveLimit(c.Request.Context(), allocationdomain.EffectiveLimitRequest{
		OrgID:        c.Query("org_id"),
		DepartmentID: c.Query("department_id"),
		MemberID:     c.Query("member_id"),
		Dimension:    plan.Dimension(c.Query("dimension")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limit": limit})
}
