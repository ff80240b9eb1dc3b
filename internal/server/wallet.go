package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	walletdomain "github.com/smallbiznis/flowgate/internal/wallet/domain"
)

type getOrCreateWalletRequest struct {
	OwnerType string `json:"owner_type" binding:"required"`
	OwnerID   string `json:"owner_id" binding:"required"`
}

func (s *Server) GetOrCreateWallet(c *gin.Context) {
	var req getOrCreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, walletdomain.ErrInvalidOwner)
		return
	}

	record, err := s.walletSvc.GetOrCreate(c.Request.Context(), walletdomain.OwnerRef{
		Type: walletdomain.OwnerType(req.OwnerType),
		ID:   req.OwnerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) GetWallet(c *gin.Context) {
	record, err := s.walletSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) CheckCredits(c *gin.Context) {
	required, err := strconv.ParseInt(c.DefaultQuery("required", "0"), 10, 64)
	if err != nil {
		AbortWithError(c, walletdomain.ErrInvalidAmount)
		return
	}

	result, err := s.walletSvc.CheckCredits(c.Request.Context(), c.Param("id"), required)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type deductRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) DeductCredits(c *gin.Context) {
	var req deductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, walletdomain.ErrInvalidAmount)
		return
	}

	result, err := s.walletSvc.DeductCredits(c.Request.Context(), c.Param("id"), req.Amount, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type accumulateRequest struct {
	Fractional  string `json:"fractional" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) AccumulateCredits(c *gin.Context) {
	var req accumulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, walletdomain.ErrInvalidAmount)
		return
	}
	fractional, err := decimal.NewFromString(req.Fractional)
	if err != nil {
		AbortWithError(c, walletdomain.ErrInvalidAmount)
		return
	}

	result, err := s.walletSvc.AccumulateAndDeduct(c.Request.Context(), c.Param("id"), fractional, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type addCreditsRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) AddCredits(c *gin.Context) {
	var req addCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, walletdomain.ErrInvalidAmount)
		return
	}

	record, err := s.walletSvc.AddCredits(
		c.Request.Context(),
		c.Param("id"),
		req.Amount,
		walletdomain.TransactionType(req.Type),
		req.Description,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := s.walletSvc.GetTransactions(c.Request.Context(), walletdomain.ListTransactionsRequest{
		WalletID: c.Param("id"),
		Limit:    limit,
		Offset:   offset,
		Type:     walletdomain.TransactionType(c.Query("type")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResetMonthlyUsage(c *gin.Context) {
	if err := s.walletSvc.ResetMonthlyUsage(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
