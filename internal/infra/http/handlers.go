package http

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"credledger/internal/domain"
	"credledger/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type issuerRequest struct {
	Name string `json:"name"`
}

type subjectRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
}

type credentialRequest struct {
	IssuerID  string           `json:"issuer_id"`
	SubjectID string           `json:"subject_id"`
	Attribute domain.Attribute `json:"attribute"`
	ValidFrom string           `json:"valid_from"`
	ValidTo   string           `json:"valid_to,omitempty"`
}

type openBlockRequest struct {
	SignerID string `json:"signer_id"`
}

type stageRequest struct {
	CredentialUUID string `json:"credential_uuid"`
	Reason         string `json:"reason,omitempty"`
}

type revokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type issuerResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	KeyID              string `json:"key_id"`
	PublicKey          string `json:"public_key"`
	PublicKeyMultibase string `json:"public_key_multibase"`
	CreatedAt          string `json:"created_at"`
}

type subjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	CreatedAt string `json:"created_at"`
}

type credentialResponse struct {
	UUID      string           `json:"uuid"`
	Attribute domain.Attribute `json:"attribute"`
	IssuerID  string           `json:"issuer_id"`
	SubjectID string           `json:"subject_id"`
	ValidFrom string           `json:"valid_from"`
	ValidTo   string           `json:"valid_to,omitempty"`
	SignerID  string           `json:"signer_id"`
	Signature string           `json:"signature"`
}

type revocationResponse struct {
	CredentialUUID string `json:"credential_uuid"`
	CredentialHash string `json:"credential_hash"`
	SignerID       string `json:"signer_id"`
	Reason         string `json:"reason,omitempty"`
	Signature      string `json:"signature"`
}

type blockResponse struct {
	Height       int                  `json:"height"`
	Hash         string               `json:"hash"`
	PreviousHash string               `json:"previous_hash"`
	Timestamp    string               `json:"timestamp"`
	SignerID     string               `json:"signer_id"`
	Signature    string               `json:"signature"`
	Issuances    []credentialResponse `json:"issuances"`
	Revocations  []revocationResponse `json:"revocations"`
}

type pendingBlockResponse struct {
	SignerID    string               `json:"signer_id"`
	OpenedAt    string               `json:"opened_at"`
	Issuances   []credentialResponse `json:"issuances"`
	Revocations []revocationResponse `json:"revocations"`
}

type chainResponse struct {
	Length int             `json:"length"`
	Head   string          `json:"head"`
	Blocks []blockResponse `json:"blocks"`
}

func (s *Server) handleRegisterIssuer(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req issuerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	issuer, err := s.ledger.RegisterIssuer(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	if !s.persistOrFail(c, nil) {
		return
	}
	c.JSON(http.StatusCreated, buildIssuerResponse(issuer))
}

func (s *Server) handleListIssuers(c *gin.Context) {
	issuers := s.ledger.Issuers()
	out := make([]issuerResponse, 0, len(issuers))
	for _, issuer := range issuers {
		out = append(out, buildIssuerResponse(issuer))
	}
	c.JSON(http.StatusOK, gin.H{"issuers": out})
}

func (s *Server) handleRegisterSubject(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req subjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "name is required")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	subject, err := s.ledger.RegisterSubject(c.Request.Context(), req.Name, req.Surname)
	if err != nil {
		writeError(c, err)
		return
	}
	if !s.persistOrFail(c, nil) {
		return
	}
	c.JSON(http.StatusCreated, buildSubjectResponse(subject))
}

func (s *Server) handleListSubjects(c *gin.Context) {
	subjects := s.ledger.Subjects()
	out := make([]subjectResponse, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, buildSubjectResponse(subject))
	}
	c.JSON(http.StatusOK, gin.H{"subjects": out})
}

func (s *Server) handleIssueCredential(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.IssuerID == "" || req.SubjectID == "" || strings.TrimSpace(req.Attribute.Name) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "issuer_id, subject_id and attribute.name are required")
		return
	}
	validFrom, err := parseTime(req.ValidFrom)
	if err != nil || validFrom.IsZero() {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RANGE", "invalid valid_from")
		return
	}
	validTo, err := parseTime(req.ValidTo)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_RANGE", "invalid valid_to")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	signed, err := s.ledger.IssueCredential(c.Request.Context(), usecase.IssueRequest{
		IssuerID:  req.IssuerID,
		SubjectID: req.SubjectID,
		Attribute: req.Attribute,
		ValidFrom: validFrom,
		ValidTo:   validTo,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPolicyDenied) {
			issuanceDenied.Inc()
		}
		writeError(c, err)
		return
	}
	credentialsIssued.Inc()
	if !s.persistOrFail(c, nil) {
		return
	}
	c.JSON(http.StatusCreated, buildCredentialResponse(signed))
}

func (s *Server) handleListCredentials(c *gin.Context) {
	creds := s.ledger.Credentials()
	out := make([]credentialResponse, 0, len(creds))
	for _, sc := range creds {
		out = append(out, buildCredentialResponse(sc))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

func (s *Server) handleCredentialStatus(c *gin.Context) {
	if !s.enforceRateLimit(c, "credentials:status") {
		return
	}
	id := c.Param("uuid")
	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := parseTime(raw)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid at")
			return
		}
		at = parsed
	}
	result, err := s.ledger.VerifyCredentialAt(id, at)
	if err != nil && !errors.Is(err, domain.ErrTamperedRecord) {
		writeError(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("tampered record", "credential_uuid", id, "error", err)
	}
	verifications.WithLabelValues(string(result.Status)).Inc()
	status := http.StatusOK
	if result.Status == domain.VerificationNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, result)
}

func (s *Server) handleRevokeCredential(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req revokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
			return
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	block, err := s.ledger.RevokeCredential(c.Request.Context(), c.Param("uuid"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	revocationsRecorded.Add(float64(len(block.Revocations)))
	blocksFinalized.Inc()
	if !s.persistOrFail(c, &block) {
		return
	}
	c.JSON(http.StatusCreated, buildBlockResponse(s.ledger.ChainLength()-1, block))
}

func (s *Server) handleOpenBlock(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req openBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.SignerID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "signer_id is required")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ledger.OpenBlock(req.SignerID); err != nil {
		writeError(c, err)
		return
	}
	if !s.persistOrFail(c, nil) {
		return
	}
	s.writePending(c, http.StatusCreated)
}

func (s *Server) handlePendingBlock(c *gin.Context) {
	s.writePending(c, http.StatusOK)
}

func (s *Server) writePending(c *gin.Context, status int) {
	pending, ok := s.ledger.PendingBlock()
	if !ok {
		writeError(c, domain.ErrNoOpenBlock)
		return
	}
	c.JSON(status, buildPendingResponse(pending))
}

func (s *Server) handleStageIssuance(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.CredentialUUID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "credential_uuid is required")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ledger.StageIssuance(req.CredentialUUID); err != nil {
		writeError(c, err)
		return
	}
	if !s.persistOrFail(c, nil) {
		return
	}
	s.writePending(c, http.StatusOK)
}

func (s *Server) handleStageRevocation(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.CredentialUUID == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "credential_uuid is required")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ledger.StageRevocation(c.Request.Context(), req.CredentialUUID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	if !s.persistOrFail(c, nil) {
		return
	}
	s.writePending(c, http.StatusOK)
}

func (s *Server) handleFinalizeBlock(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	block, err := s.ledger.FinalizeBlock(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	blocksFinalized.Inc()
	revocationsRecorded.Add(float64(len(block.Revocations)))
	if !s.persistOrFail(c, &block) {
		return
	}
	c.JSON(http.StatusCreated, buildBlockResponse(s.ledger.ChainLength()-1, block))
}

func (s *Server) handleChain(c *gin.Context) {
	blocks := s.ledger.Blocks()
	out := chainResponse{
		Length: len(blocks),
		Head:   domain.GenesisHash.Hex(),
		Blocks: make([]blockResponse, 0, len(blocks)),
	}
	for height, block := range blocks {
		out.Blocks = append(out.Blocks, buildBlockResponse(height, block))
		out.Head = block.Hash.Hex()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleValidateChain(c *gin.Context) {
	if err := s.ledger.Validate(); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// persistOrFail writes the post-mutation state. The in-memory ledger is
// already updated when this fails; the next successful save catches up.
func (s *Server) persistOrFail(c *gin.Context, block *domain.Block) bool {
	if err := s.persist(c.Request.Context(), block); err != nil {
		s.logger.Error("persist ledger", "error", err)
		writeErrorCode(c, http.StatusInternalServerError, "PERSISTENCE_FAILED", err.Error())
		return false
	}
	return true
}

func (s *Server) requireAdmin(c *gin.Context) bool {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return false
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return false
	}
	return true
}

// parseTime accepts RFC3339 timestamps and plain YYYY-MM-DD dates (UTC
// midnight). An empty value yields the zero time.
func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func buildIssuerResponse(issuer domain.Issuer) issuerResponse {
	return issuerResponse{
		ID:                 issuer.ID,
		Name:               issuer.Name,
		KeyID:              issuer.KeyID,
		PublicKey:          hex.EncodeToString(issuer.PublicKey),
		PublicKeyMultibase: issuer.PublicKeyMultibase(),
		CreatedAt:          formatTime(issuer.CreatedAt),
	}
}

func buildSubjectResponse(subject domain.Subject) subjectResponse {
	return subjectResponse{
		ID:        subject.ID,
		Name:      subject.Name,
		Surname:   subject.Surname,
		CreatedAt: formatTime(subject.CreatedAt),
	}
}

func buildCredentialResponse(sc domain.SignedCredential) credentialResponse {
	return credentialResponse{
		UUID:      sc.Credential.UUID,
		Attribute: sc.Credential.Attribute,
		IssuerID:  sc.Credential.IssuerID,
		SubjectID: sc.Credential.SubjectID,
		ValidFrom: formatTime(sc.Credential.ValidFrom),
		ValidTo:   formatTime(sc.Credential.ValidTo),
		SignerID:  sc.SignerID,
		Signature: hex.EncodeToString(sc.Signature),
	}
}

func buildRevocationResponse(rev domain.Revocation) revocationResponse {
	return revocationResponse{
		CredentialUUID: rev.CredentialUUID,
		CredentialHash: rev.CredentialHash.Hex(),
		SignerID:       rev.SignerID,
		Reason:         rev.Reason,
		Signature:      hex.EncodeToString(rev.Signature),
	}
}

func buildRecords(issuances []domain.SignedCredential, revocations []domain.Revocation) ([]credentialResponse, []revocationResponse) {
	creds := make([]credentialResponse, 0, len(issuances))
	for _, sc := range issuances {
		creds = append(creds, buildCredentialResponse(sc))
	}
	revs := make([]revocationResponse, 0, len(revocations))
	for _, rev := range revocations {
		revs = append(revs, buildRevocationResponse(rev))
	}
	return creds, revs
}

func buildBlockResponse(height int, block domain.Block) blockResponse {
	creds, revs := buildRecords(block.Issuances, block.Revocations)
	return blockResponse{
		Height:       height,
		Hash:         block.Hash.Hex(),
		PreviousHash: block.PreviousHash.Hex(),
		Timestamp:    formatTime(block.Timestamp),
		SignerID:     block.SignerID,
		Signature:    hex.EncodeToString(block.Signature),
		Issuances:    creds,
		Revocations:  revs,
	}
}

func buildPendingResponse(pending domain.PendingBlock) pendingBlockResponse {
	creds, revs := buildRecords(pending.Issuances, pending.Revocations)
	return pendingBlockResponse{
		SignerID:    pending.SignerID,
		OpenedAt:    formatTime(pending.OpenedAt),
		Issuances:   creds,
		Revocations: revs,
	}
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		status, code = http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, domain.ErrInvalidEncoding):
		status, code = http.StatusBadRequest, "INVALID_ENCODING"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusForbidden, "SIGNER_UNAUTHORIZED"
	case errors.Is(err, domain.ErrPolicyDenied):
		status, code = http.StatusForbidden, "POLICY_DENIED"
	case errors.Is(err, domain.ErrBlockAlreadyOpen):
		status, code = http.StatusConflict, "BLOCK_ALREADY_OPEN"
	case errors.Is(err, domain.ErrNoOpenBlock):
		status, code = http.StatusConflict, "NO_OPEN_BLOCK"
	case errors.Is(err, domain.ErrDuplicateCredential):
		status, code = http.StatusConflict, "DUPLICATE_CREDENTIAL"
	case errors.Is(err, domain.ErrUnknownCredential):
		status, code = http.StatusConflict, "UNKNOWN_CREDENTIAL"
	case errors.Is(err, domain.ErrAlreadyRevoked):
		status, code = http.StatusConflict, "ALREADY_REVOKED"
	case errors.Is(err, domain.ErrEmptyBlock):
		status, code = http.StatusConflict, "EMPTY_BLOCK"
	case errors.Is(err, domain.ErrChainLinkMismatch):
		status, code = http.StatusConflict, "CHAIN_LINK_MISMATCH"
	case errors.Is(err, domain.ErrInvalidBlockHash):
		status, code = http.StatusConflict, "INVALID_BLOCK_HASH"
	case errors.Is(err, domain.ErrInvalidBlockSignature):
		status, code = http.StatusConflict, "INVALID_BLOCK_SIGNATURE"
	case errors.Is(err, domain.ErrTamperedRecord):
		status, code = http.StatusConflict, "TAMPERED_RECORD"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
