package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"veriledger/internal/domain"
	"veriledger/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type submitEventRequest struct {
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Commitments []string       `json:"commitments,omitempty"`
	Nullifiers  []string       `json:"nullifiers,omitempty"`
	Signer      string         `json:"signer"`
	Signature   string         `json:"signature"`
}

type submitEventResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	LeafHash  string `json:"leaf_hash"`
}

type eventResponse struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Commitments []string       `json:"commitments,omitempty"`
	Nullifiers  []string       `json:"nullifiers,omitempty"`
	Signer      string         `json:"signer"`
	LeafHash    string         `json:"leaf_hash"`
	ProofStatus string         `json:"proof_status"`
	BlockID     *string        `json:"block_id,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type createJobRequest struct {
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id"`
	Circuit     string         `json:"circuit"`
	WitnessData map[string]any `json:"witness_data,omitempty"`
	Priority    int            `json:"priority,omitempty"`
}

type jobResponse struct {
	ID         string `json:"id"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Circuit    string `json:"circuit"`
	Status     string `json:"status"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retry_count"`
	ProofRef   string `json:"proof_ref,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type issueCredentialRequest struct {
	Holders []string `json:"holders"`
}

type issuanceResponse struct {
	ID          string `json:"id"`
	Root        string `json:"root"`
	HolderCount int    `json:"holder_count"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type deadEntryResponse struct {
	ID       string `json:"id"`
	OriginID string `json:"origin_id"`
	Reason   string `json:"reason"`
	Payload  string `json:"payload"`
}

func (s *Server) handleSubmitEvent(c *gin.Context) {
	var req submitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if !s.enforceRateLimit(c, req.Signer) {
		return
	}
	event, err := s.ledger.Submit(c.Request.Context(), usecase.SubmitEventRequest{
		Type:        req.Type,
		Payload:     req.Payload,
		Commitments: req.Commitments,
		Nullifiers:  req.Nullifiers,
		Signer:      req.Signer,
		Signature:   req.Signature,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submitEventResponse{
		ID:        event.ID,
		CreatedAt: event.CreatedAt.Format(time.RFC3339Nano),
		LeafHash:  event.LeafHash,
	})
}

func (s *Server) handleGetEvent(c *gin.Context) {
	event, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildEventResponse(*event))
}

func (s *Server) handleListEvents(c *gin.Context) {
	filter := domain.EventFilter{
		Type:        c.Query("type"),
		Signer:      c.Query("signer"),
		ProofStatus: domain.ProofStatus(c.Query("proof_status")),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	for key, values := range c.Request.URL.Query() {
		if !strings.HasPrefix(key, "payload.") || len(values) == 0 {
			continue
		}
		if filter.Payload == nil {
			filter.Payload = make(map[string]string)
		}
		filter.Payload[strings.TrimPrefix(key, "payload.")] = values[0]
	}

	events, err := s.ledger.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, buildEventResponse(event))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleInclusionProof(c *gin.Context) {
	result, err := s.ledger.InclusionProof(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCreateJob(c *gin.Context) {
	if s.coordinator == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	job, err := s.coordinator.CreateJob(c.Request.Context(), usecase.CreateJobRequest{
		TargetType: domain.JobTargetType(req.TargetType),
		TargetID:   req.TargetID,
		Circuit:    req.Circuit,
		Witness:    req.WitnessData,
		Priority:   req.Priority,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildJobResponse(job))
}

func (s *Server) handleRequeuePending(c *gin.Context) {
	if s.coordinator == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	count, err := s.coordinator.RequeuePending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": count})
}

func (s *Server) handleRetryJob(c *gin.Context) {
	if s.coordinator == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	job, err := s.coordinator.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildJobResponse(job))
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	if s.chain == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	report, err := s.chain.VerifyChain(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  report.Valid,
		"count":  report.Count,
		"errors": report.Errors,
	})
}

func (s *Server) handleRetryParkedBatch(c *gin.Context) {
	if s.aggregator == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	if err := s.aggregator.RetryParkedBatch(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "proving"})
}

func (s *Server) handleIssueCredential(c *gin.Context) {
	var req issueCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	issuance, err := s.registry.Issue(c.Request.Context(), req.Holders)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, buildIssuanceResponse(issuance))
}

func (s *Server) handleRevokeCredential(c *gin.Context) {
	if err := s.registry.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.CredentialStatusRevoked)})
}

func (s *Server) handleMembershipProof(c *gin.Context) {
	holder := c.Query("holder")
	if holder == "" {
		writeErrorCode(c, http.StatusBadRequest, "HOLDER_REQUIRED", "holder query parameter is required")
		return
	}
	proof, err := s.registry.MembershipProof(c.Request.Context(), c.Param("id"), holder)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (s *Server) handleRegistryRoot(c *gin.Context) {
	root, err := s.registry.RegistryRoot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"root": root})
}

func (s *Server) handleListDead(c *gin.Context) {
	if s.deadLetters == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	entries, err := s.deadLetters.ListDead(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]deadEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, deadEntryResponse{
			ID:       entry.ID,
			OriginID: entry.OriginID,
			Reason:   entry.Reason,
			Payload:  string(entry.Payload),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleReprocessDead(c *gin.Context) {
	if s.deadLetters == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	id, err := s.deadLetters.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry_id": id})
}

func (s *Server) handleReprocessAllDead(c *gin.Context) {
	if s.deadLetters == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	count, err := s.deadLetters.ReprocessAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reprocessed": count})
}

// enforceRateLimit applies the per-signer fixed window to write routes.
// A limiter outage fails open: ingestion keeps working without limits.
func (s *Server) enforceRateLimit(c *gin.Context, signer string) bool {
	if s.rateLimiter == nil || s.cfg.RateLimit.Requests <= 0 || signer == "" {
		return true
	}
	key := "ratelimit:signer:" + signer
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window)
	if err != nil {
		s.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}

func buildEventResponse(event domain.Event) eventResponse {
	return eventResponse{
		ID:          event.ID,
		Type:        event.Type,
		Payload:     event.Payload,
		Commitments: event.Commitments,
		Nullifiers:  event.Nullifiers,
		Signer:      event.Signer,
		LeafHash:    event.LeafHash,
		ProofStatus: string(event.ProofStatus),
		BlockID:     event.BlockID,
		CreatedAt:   event.CreatedAt.Format(time.RFC3339Nano),
	}
}

func buildJobResponse(job domain.ProverJob) jobResponse {
	return jobResponse{
		ID:         job.ID,
		TargetType: string(job.TargetType),
		TargetID:   job.TargetID,
		Circuit:    job.Circuit,
		Status:     string(job.Status),
		Priority:   job.Priority,
		RetryCount: job.RetryCount,
		ProofRef:   job.ProofRef,
		LastError:  job.LastError,
	}
}

func buildIssuanceResponse(issuance domain.CredentialIssuance) issuanceResponse {
	return issuanceResponse{
		ID:          issuance.ID,
		Root:        issuance.Root,
		HolderCount: len(issuance.Holders),
		Status:      string(issuance.Status),
		CreatedAt:   issuance.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		status, code = http.StatusBadRequest, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrTargetUnknown):
		status, code = http.StatusBadRequest, "TARGET_UNKNOWN"
	case errors.Is(err, domain.ErrFilterNotAllowed):
		status, code = http.StatusBadRequest, "FILTER_NOT_ALLOWED"
	case errors.Is(err, domain.ErrProofInvalid):
		status, code = http.StatusBadRequest, "PROOF_INVALID"
	case errors.Is(err, domain.ErrIssuanceRevoked):
		status, code = http.StatusConflict, "ISSUANCE_REVOKED"
	case errors.Is(err, domain.ErrHolderNotIncluded):
		status, code = http.StatusNotFound, "HOLDER_NOT_INCLUDED"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
