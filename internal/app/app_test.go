package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emp-payments-backend/internal/config"
	handler "emp-payments-backend/internal/handlers"
	"emp-payments-backend/internal/services/submission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSubmitOptionsFillsFromConfig(t *testing.T) {
	a := &App{Config: &config.Config{SubmitConcurrency: 8, SubmitChunkSize: 16}}

	got := a.SubmitOptions(submission.Options{MaxRecords: 5})
	assert.Equal(t, submission.Options{Concurrency: 8, ChunkSize: 16, MaxRecords: 5}, got)

	got = a.SubmitOptions(submission.Options{Concurrency: 2, ChunkSize: 3})
	assert.Equal(t, 2, got.Concurrency)
	assert.Equal(t, 3, got.ChunkSize)
}

func TestAuthorizer(t *testing.T) {
	cfg := &config.Config{ReadToken: "reader", WriteToken: "writer"}
	auth := (&App{Config: cfg}).Authorizer()
	assert.Equal(t, handler.AccessRead, auth.Authorize(request("reader")))

	signed, err := handler.SignToken("s3cret", "ops", true, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, handler.AccessNone, auth.Authorize(request(signed)))

	cfg.JWTSecret = "s3cret"
	auth = (&App{Config: cfg}).Authorizer()
	assert.Equal(t, handler.AccessWrite, auth.Authorize(request(signed)))
	assert.Equal(t, handler.AccessWrite, auth.Authorize(request("writer")))
}

func TestCompanyDefaultsAndGatewayConfig(t *testing.T) {
	cfg := &config.Config{
		TransactionPrefix: "acme",
		Currency:          "EUR",
		RemoteIP:          "10.0.0.1",
		GatewayURL:        "https://gate.example",
		GatewayTerminal:   "term",
		GatewayTimeout:    5 * time.Second,
	}

	company := CompanyDefaults(cfg)
	assert.Equal(t, "acme", company.TransactionPrefix)
	assert.Equal(t, "10.0.0.1", company.RemoteIP)

	gw := GatewayConfig(cfg)
	assert.Equal(t, "https://gate.example", gw.BaseURL)
	assert.Equal(t, "term", gw.TerminalToken)
	assert.Equal(t, 5*time.Second, gw.Timeout)
}
