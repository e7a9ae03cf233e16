package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ukuvago/contractdesk/internal/services"
)

// PublicContractHandler serves share-link and signing-token holders. None
// of its routes require authentication.
type PublicContractHandler struct {
	contracts *services.ContractService
}

func NewPublicContractHandler(contracts *services.ContractService) *PublicContractHandler {
	return &PublicContractHandler{contracts: contracts}
}

func clientInfo(c *gin.Context) services.ClientInfo {
	return services.ClientInfo{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// ViewSharedContract resolves a share link
func (h *PublicContractHandler) ViewSharedContract(c *gin.Context) {
	view, err := h.contracts.ResolveShare(c.Request.Context(), c.Param("token"), clientInfo(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

type verifyPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// VerifySharePassword unlocks a password protected share link
func (h *PublicContractHandler) VerifySharePassword(c *gin.Context) {
	var req verifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password is required"})
		return
	}

	view, err := h.contracts.VerifySharePassword(c.Request.Context(), c.Param("token"), req.Password, clientInfo(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// ViewSigningRequest shows a signer the contract and records the view
func (h *PublicContractHandler) ViewSigningRequest(c *gin.Context) {
	view, err := h.contracts.ViewSigning(c.Request.Context(), c.Param("token"), clientInfo(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// SignContract records a signature
func (h *PublicContractHandler) SignContract(c *gin.Context) {
	var req services.SignatureEvidence
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature payload"})
		return
	}

	result, err := h.contracts.Sign(c.Request.Context(), c.Param("token"), req, clientInfo(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// DeclineContract records a decline. The reason is optional.
func (h *PublicContractHandler) DeclineContract(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.contracts.Decline(c.Request.Context(), c.Param("token"), req.Reason, clientInfo(c))
	if err != nil {
		respondPublicError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
