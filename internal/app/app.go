// Package app builds the service graph shared by the HTTP server and the
// command line tool.
package app

import (
	"context"

	"emp-payments-backend/internal/config"
	handler "emp-payments-backend/internal/handlers"
	"emp-payments-backend/internal/repository"
	"emp-payments-backend/internal/services/blacklist"
	"emp-payments-backend/internal/services/compliance"
	"emp-payments-backend/internal/services/gateway"
	"emp-payments-backend/internal/services/mapping"
	"emp-payments-backend/internal/services/reconciliation"
	"emp-payments-backend/internal/services/submission"
	"emp-payments-backend/internal/services/uploadlock"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Uploads    *repository.UploadRepository
	Audits     *repository.AuditRepository
	Submitter  *submission.Submitter
	Reconciler *reconciliation.ReconciliationService
	Cooldown   *compliance.Gate
	Blacklist  *blacklist.Service
}

// CompanyDefaults is the company configuration used when an upload's
// account sets nothing.
func CompanyDefaults(cfg *config.Config) mapping.CompanyConfig {
	return mapping.CompanyConfig{
		TransactionPrefix: cfg.TransactionPrefix,
		Usage:             cfg.Usage,
		Currency:          cfg.Currency,
		RemoteIP:          cfg.RemoteIP,
		DynamicDescriptor: cfg.DynamicDescriptor,
		NotificationURL:   cfg.NotificationURL,
		ReturnSuccessURL:  cfg.ReturnSuccessURL,
		ReturnFailureURL:  cfg.ReturnFailureURL,
	}
}

// GatewayConfig maps the gateway settings onto the Genesis client.
func GatewayConfig(cfg *config.Config) gateway.GenesisConfig {
	return gateway.GenesisConfig{
		BaseURL:       cfg.GatewayURL,
		Username:      cfg.GatewayUsername,
		Password:      cfg.GatewayPassword,
		TerminalToken: cfg.GatewayTerminal,
		Timeout:       cfg.GatewayTimeout,
	}
}

// New wires repositories and services over db. One lock table is shared so
// that submission, reconcile and compliance never mutate an upload at once.
func New(cfg *config.Config, db *gorm.DB) *App {
	uploads := repository.NewUploadRepository(db)
	records := repository.NewReconcileRecordRepository(db)
	audits := repository.NewAuditRepository(db)
	accounts := repository.NewAccountRepository(db)
	entries := repository.NewBlacklistRepository(db)
	chargebacks := repository.NewChargebackRepository(db)

	gw := gateway.NewGenesisClient(GatewayConfig(cfg))
	locks := uploadlock.New()

	return &App{
		Config:     cfg,
		DB:         db,
		Uploads:    uploads,
		Audits:     audits,
		Submitter:  submission.NewSubmitter(uploads, accounts, audits, gw, locks, CompanyDefaults(cfg)),
		Reconciler: reconciliation.NewReconciliationService(gw, uploads, records, audits, locks, cfg.ReconcileWindowDays),
		Cooldown:   compliance.NewGate(records, uploads, audits, locks).WithWindowDays(cfg.CooldownWindowDays),
		Blacklist:  blacklist.NewService(entries, chargebacks, records, uploads, audits, locks),
	}
}

// SubmitOptions fills unset submission options from the configuration.
func (a *App) SubmitOptions(opts submission.Options) submission.Options {
	if opts.Concurrency <= 0 {
		opts.Concurrency = a.Config.SubmitConcurrency
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = a.Config.SubmitChunkSize
	}
	return opts
}

// Handler exposes the services over HTTP.
func (a *App) Handler() *handler.EmpHandler {
	return handler.NewEmpHandler(configuredSubmitter{app: a}, a.Reconciler, a.Cooldown, a.Blacklist, a.Audits)
}

// Authorizer accepts the configured static tokens and, when a secret is
// set, signed JWTs.
func (a *App) Authorizer() handler.Authorizer {
	auth := handler.Authorizers{
		handler.TokenAuthorizer{ReadToken: a.Config.ReadToken, WriteToken: a.Config.WriteToken},
	}
	if a.Config.JWTSecret != "" {
		auth = append(auth, handler.JWTAuthorizer{Secret: a.Config.JWTSecret})
	}
	return auth
}

// configuredSubmitter applies the configured batch sizes to HTTP requests.
type configuredSubmitter struct {
	app *App
}

func (s configuredSubmitter) SubmitBatch(ctx context.Context, uploadID uuid.UUID, opts submission.Options) (submission.Result, error) {
	return s.app.Submitter.SubmitBatch(ctx, uploadID, s.app.SubmitOptions(opts))
}

func (s configuredSubmitter) GetProgress(uploadID uuid.UUID) (submission.Progress, bool) {
	return s.app.Submitter.GetProgress(uploadID)
}

func (s configuredSubmitter) ResetErrors(ctx context.Context, uploadID uuid.UUID) (int, error) {
	return s.app.Submitter.ResetErrors(ctx, uploadID)
}
