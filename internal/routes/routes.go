package routes

import (
	"github.com/gin-gonic/gin"

	handler "emp-payments-backend/internal/handlers"
)

func RegisterRoutes(r *gin.Engine, h *handler.EmpHandler, auth handler.Authorizer) {
	api := r.Group("/api")

	// Health check
	health := func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	}
	api.GET("/health", health)
	api.GET("/emp/health", health)

	emp := api.Group("/emp", handler.RequireSession(auth))
	write := handler.RequireWriteAccess(auth)

	// Upload-level routes
	uploads := emp.Group("/uploads/:id")
	uploads.GET("/progress", h.GetProgress)
	uploads.GET("/reconcile-report", h.LastReport)
	uploads.GET("/audit", h.ListAudit)
	uploads.POST("/submit", write, h.SubmitBatch)
	uploads.POST("/reset-errors", write, h.ResetErrors)
	uploads.POST("/reconcile", write, h.ReconcileUpload)
	uploads.POST("/cooldown", write, h.CheckUploadCooldown)
	uploads.POST("/blacklist-filter", write, h.FilterUpload)

	// Reconciliation
	emp.POST("/reconcile", write, h.ReconcileRecent)
	emp.POST("/reconcile/transaction", h.ReconcileTransaction)
	emp.GET("/reconcile/stats", h.GroundTruthStats)

	// Compliance lookups
	emp.POST("/compliance/cooldown", h.CheckCooldown)
	emp.POST("/blacklist/check", h.CheckBlacklist)
	emp.POST("/blacklist", write, h.AddBlacklistEntry)
	emp.POST("/chargebacks/import", write, h.ImportChargebacks)
}
