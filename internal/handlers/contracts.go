package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ukuvago/contractdesk/internal/middleware"
	"github.com/ukuvago/contractdesk/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ContractHandler struct {
	contracts *services.ContractService
}

func NewContractHandler(contracts *services.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// scope resolves the caller and the opportunity from the request path.
func (h *ContractHandler) scope(c *gin.Context) (services.Principal, uuid.UUID, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return services.Principal{}, uuid.Nil, false
	}

	opportunityID, err := uuid.Parse(c.Param("opportunityId"))
	if err != nil {
		badRequest(c, "Invalid opportunity ID")
		return services.Principal{}, uuid.Nil, false
	}

	return principal, opportunityID, true
}

// target is scope plus the contract id.
func (h *ContractHandler) target(c *gin.Context) (services.Principal, uuid.UUID, uuid.UUID, bool) {
	principal, opportunityID, ok := h.scope(c)
	if !ok {
		return principal, uuid.Nil, uuid.Nil, false
	}

	contractID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid contract ID")
		return principal, uuid.Nil, uuid.Nil, false
	}

	return principal, opportunityID, contractID, true
}

// ListContracts returns every contract of an opportunity
func (h *ContractHandler) ListContracts(c *gin.Context) {
	principal, opportunityID, ok := h.scope(c)
	if !ok {
		return
	}

	contracts, err := h.contracts.List(c.Request.Context(), principal, opportunityID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

// CreateContract creates a draft from caller-supplied sections
func (h *ContractHandler) CreateContract(c *gin.Context) {
	principal, opportunityID, ok := h.scope(c)
	if !ok {
		return
	}

	var req services.CreateContractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.Create(c.Request.Context(), principal, opportunityID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// GenerateContract drafts a contract through the document generator
func (h *ContractHandler) GenerateContract(c *gin.Context) {
	principal, opportunityID, ok := h.scope(c)
	if !ok {
		return
	}

	var req services.GenerateContractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.Generate(c.Request.Context(), principal, opportunityID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// GetContract returns a single contract
func (h *ContractHandler) GetContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	contract, err := h.contracts.Get(c.Request.Context(), principal, opportunityID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// UpdateContract edits a draft
func (h *ContractHandler) UpdateContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req services.ContractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.Update(c.Request.Context(), principal, opportunityID, contractID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// DeleteContract removes an unshared draft
func (h *ContractHandler) DeleteContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	if err := h.contracts.Delete(c.Request.Context(), principal, opportunityID, contractID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// RegenerateContract replaces the sections of a draft with a fresh generation
func (h *ContractHandler) RegenerateContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req services.RegenerateInput
	if !bindOptionalJSON(c, &req) {
		return
	}

	contract, err := h.contracts.Regenerate(c.Request.Context(), principal, opportunityID, contractID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ShareContract issues a public share link
func (h *ContractHandler) ShareContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req services.ShareInput
	if !bindOptionalJSON(c, &req) {
		return
	}

	share, err := h.contracts.Share(c.Request.Context(), principal, opportunityID, contractID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"share": share})
}

// SendContract sends a draft out for signature. The body is either the
// ordered signer list itself or an object with a "signers" field.
func (h *ContractHandler) SendContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	signers, err := decodeSigners(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	requests, err := h.contracts.Send(c.Request.Context(), principal, opportunityID, contractID, signers)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"signature_requests": requests})
}

func decodeSigners(c *gin.Context) ([]services.SignerSpec, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("signers are required")
	}

	var signers []services.SignerSpec
	if body[0] == '[' {
		if err := json.Unmarshal(body, &signers); err != nil {
			return nil, err
		}
		return signers, nil
	}

	var req struct {
		Signers []services.SignerSpec `json:"signers"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return req.Signers, nil
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// VoidContract cancels a contract that has not become active
func (h *ContractHandler) VoidContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	contract, err := h.contracts.Void(c.Request.Context(), principal, opportunityID, contractID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// TerminateContract ends an active contract
func (h *ContractHandler) TerminateContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	contract, err := h.contracts.Terminate(c.Request.Context(), principal, opportunityID, contractID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ActivateContract moves a signed contract to active
func (h *ContractHandler) ActivateContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	contract, err := h.contracts.Activate(c.Request.Context(), principal, opportunityID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// ReviseContract opens the next version of a contract as a draft
func (h *ContractHandler) ReviseContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	var req services.ContractInput
	if !bindOptionalJSON(c, &req) {
		return
	}

	contract, err := h.contracts.Revise(c.Request.Context(), principal, opportunityID, contractID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// ResendSignature re-notifies an outstanding signer
func (h *ContractHandler) ResendSignature(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	signatureID, err := uuid.Parse(c.Param("signatureId"))
	if err != nil {
		badRequest(c, "Invalid signature ID")
		return
	}

	signer, err := h.contracts.Resend(c.Request.Context(), principal, opportunityID, contractID, signatureID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"signer": signer})
}

// GetSignatures returns the aggregate signing status
func (h *ContractHandler) GetSignatures(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	summary, err := h.contracts.Signatures(c.Request.Context(), principal, opportunityID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetAuditTrail returns one page of audit entries, oldest first
func (h *ContractHandler) GetAuditTrail(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "Invalid limit")
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, "Invalid offset")
		return
	}

	page, err := h.contracts.Audit(c.Request.Context(), principal, opportunityID, contractID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// ExportAuditTrail downloads the audit trail as a spreadsheet
func (h *ContractHandler) ExportAuditTrail(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	data, filename, err := h.contracts.ExportAudit(c.Request.Context(), principal, opportunityID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// DownloadContract returns the contract as a PDF
func (h *ContractHandler) DownloadContract(c *gin.Context) {
	principal, opportunityID, contractID, ok := h.target(c)
	if !ok {
		return
	}

	data, filename, err := h.contracts.RenderPDF(c.Request.Context(), principal, opportunityID, contractID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

// bindOptionalJSON binds the body when there is one. An empty body leaves
// req at its zero value.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
