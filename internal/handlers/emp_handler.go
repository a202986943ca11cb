package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"emp-payments-backend/internal/models"
	"emp-payments-backend/internal/services/blacklist"
	"emp-payments-backend/internal/services/compliance"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/reconciliation"
	"emp-payments-backend/internal/services/submission"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Submitter interface {
	SubmitBatch(ctx context.Context, uploadID uuid.UUID, opts submission.Options) (submission.Result, error)
	GetProgress(uploadID uuid.UUID) (submission.Progress, bool)
	ResetErrors(ctx context.Context, uploadID uuid.UUID) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, q gateway.Query) gateway.Result
	ReconcileUpload(ctx context.Context, uploadID uuid.UUID) (reconciliation.Report, int, error)
	ReconcileRecent(ctx context.Context) (reconciliation.BulkResult, error)
	LastReport(uploadID uuid.UUID) (reconciliation.Report, bool)
	GroundTruthStats(ctx context.Context) (reconciliation.Stats, error)
}

type CooldownGate interface {
	CheckThreshold(ctx context.Context, ibans []string, opts compliance.Options) (compliance.Result, error)
	CheckUpload(ctx context.Context, uploadID uuid.UUID, windowDays int, apply bool) (compliance.Result, int, error)
}

type Blacklist interface {
	CheckBlacklist(ctx context.Context, ibans, emails, names, bics []string) (blacklist.Matches, error)
	AddEntry(ctx context.Context, e models.BlacklistEntry) (bool, error)
	FilterUpload(ctx context.Context, uploadID uuid.UUID, mode blacklist.Mode) (blacklist.FilterResult, error)
	ImportChargebacks(ctx context.Context, cbs []models.Chargeback) (int64, error)
}

type AuditLog interface {
	ListByUpload(ctx context.Context, uploadID uuid.UUID) ([]models.RowStatusAudit, error)
}

type EmpHandler struct {
	submitter  Submitter
	reconciler Reconciler
	cooldown   CooldownGate
	blacklist  Blacklist
	audits     AuditLog
}

func NewEmpHandler(s Submitter, r Reconciler, c CooldownGate, b Blacklist, a AuditLog) *EmpHandler {
	return &EmpHandler{submitter: s, reconciler: r, cooldown: c, blacklist: b, audits: a}
}

func uploadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload ID"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, err error) {
	var verr *mapping.ValidationError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
	case errors.Is(err, uploadlock.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "upload is busy with another operation"})
	case errors.As(err, &verr), errors.Is(err, blacklist.ErrEmptyEntry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("[HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *EmpHandler) SubmitBatch(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	var opts submission.Options
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	if opts.Concurrency < 0 || opts.ChunkSize < 0 || opts.MaxRecords < 0 || opts.AmountLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "options must not be negative"})
		return
	}
	if opts.FilterByAmount != "" {
		if _, err := mapping.ParseAmount(opts.FilterByAmount); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filterByAmount"})
			return
		}
	}

	res, err := h.submitter.SubmitBatch(c.Request.Context(), id, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EmpHandler) GetProgress(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	p, found := h.submitter.GetProgress(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no submission run for this upload"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *EmpHandler) ResetErrors(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	n, err := h.submitter.ResetErrors(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "errored rows reset", "rows_reset": n})
}

func (h *EmpHandler) ReconcileUpload(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	report, updated, err := h.reconciler.ReconcileUpload(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "rows_updated": updated})
}

func (h *EmpHandler) LastReport(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	report, found := h.reconciler.LastReport(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not reconciled since startup"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *EmpHandler) ReconcileRecent(c *gin.Context) {
	res, err := h.reconciler.ReconcileRecent(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EmpHandler) ReconcileTransaction(c *gin.Context) {
	var q gateway.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if q.UniqueID == "" && q.TransactionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uniqueId or transactionId is required"})
		return
	}
	c.JSON(http.StatusOK, h.reconciler.Reconcile(c.Request.Context(), q))
}

func (h *EmpHandler) GroundTruthStats(c *gin.Context) {
	stats, err := h.reconciler.GroundTruthStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *EmpHandler) CheckUploadCooldown(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	var payload struct {
		WindowDays int  `json:"windowDays"`
		Apply      bool `json:"apply"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	res, marked, err := h.cooldown.CheckUpload(c.Request.Context(), id, payload.WindowDays, payload.Apply)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "rows_marked": marked})
}

func (h *EmpHandler) CheckCooldown(c *gin.Context) {
	var payload struct {
		IBANs           []string `json:"ibans"`
		ExcludeUploadID string   `json:"excludeUploadId"`
		WindowDays      int      `json:"windowDays"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	opts := compliance.Options{WindowDays: payload.WindowDays}
	if payload.ExcludeUploadID != "" {
		id, err := uuid.Parse(payload.ExcludeUploadID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid excludeUploadId"})
			return
		}
		opts.ExcludeUploadID = &id
	}
	res, err := h.cooldown.CheckThreshold(c.Request.Context(), payload.IBANs, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EmpHandler) CheckBlacklist(c *gin.Context) {
	var payload struct {
		IBANs  []string `json:"ibans"`
		Emails []string `json:"emails"`
		Names  []string `json:"names"`
		BICs   []string `json:"bics"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	m, err := h.blacklist.CheckBlacklist(c.Request.Context(), payload.IBANs, payload.Emails, payload.Names, payload.BICs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": m.Lists(), "total": m.Total()})
}

func (h *EmpHandler) AddBlacklistEntry(c *gin.Context) {
	var entry models.BlacklistEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	created, err := h.blacklist.AddEntry(c.Request.Context(), entry)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"created": created})
}

func (h *EmpHandler) FilterUpload(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	var payload struct {
		Mode blacklist.Mode `json:"mode"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	if payload.Mode != "" && payload.Mode != blacklist.ModeRemove && payload.Mode != blacklist.ModeMark {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be remove or mark"})
		return
	}
	res, err := h.blacklist.FilterUpload(c.Request.Context(), id, payload.Mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *EmpHandler) ImportChargebacks(c *gin.Context) {
	var cbs []models.Chargeback
	if err := c.ShouldBindJSON(&cbs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	n, err := h.blacklist.ImportChargebacks(c.Request.Context(), cbs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": len(cbs), "imported": n})
}

func (h *EmpHandler) ListAudit(c *gin.Context) {
	id, ok := uploadID(c)
	if !ok {
		return
	}
	entries, err := h.audits.ListByUpload(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}
