package gateway

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenesis(t *testing.T, handler http.HandlerFunc) *GenesisClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGenesisClient(GenesisConfig{BaseURL: srv.URL + "/", Username: "user", Password: "secret", TerminalToken: "tok"})
}

func TestGenesisSubmit_Approved(t *testing.T) {
	var got genesisSale
	client := newTestGenesis(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process/tok/", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, xml.Unmarshal(body, &got))

		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<payment_response>
  <transaction_type>sdd_sale</transaction_type>
  <status>approved</status>
  <unique_id>44177a21403427eb96664a6d7e5d5d48</unique_id>
  <transaction_id>acme-1</transaction_id>
  <message>TESTMODE: No real money will be transferred!</message>
  <amount>1250</amount>
  <currency>EUR</currency>
  <timestamp>2024-06-01T10:00:00Z</timestamp>
</payment_response>`)
	})

	res, err := client.Submit(context.Background(), SddSaleRequest{
		TransactionID:     "acme-1",
		Amount:            decimal.RequireFromString("12.50"),
		Currency:          "EUR",
		IBAN:              "DE89370400440532013000",
		FirstName:         "Ada",
		LastName:          "Lovelace",
		Country:           "DE",
		DynamicDescriptor: "ACME",
	})
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, "approved", res.Status)
	assert.Equal(t, "44177a21403427eb96664a6d7e5d5d48", res.UniqueID)
	assert.Equal(t, int64(1250), res.Amount)

	assert.Equal(t, "sdd_sale", got.TransactionType)
	assert.Equal(t, int64(1250), got.Amount)
	assert.Equal(t, "Ada", got.BillingAddress.FirstName)
	require.NotNil(t, got.DynamicDescriptor)
	assert.Equal(t, "ACME", got.DynamicDescriptor.MerchantName)
}

func TestGenesisSubmit_DuplicateIsADeclineNotAnError(t *testing.T) {
	client := newTestGenesis(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `<payment_response>
  <status>error</status>
  <code>320</code>
  <message>Transaction id has already been used</message>
  <technical_message>transaction_id has already been used</technical_message>
</payment_response>`)
	})

	res, err := client.Submit(context.Background(), SddSaleRequest{TransactionID: "acme-1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, IsDuplicateTransactionError(res.Message, res.TechnicalMessage))
}

func TestGenesisSubmit_TransportError(t *testing.T) {
	client := newTestGenesis(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "upstream down")
	})

	_, err := client.Submit(context.Background(), SddSaleRequest{TransactionID: "acme-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGenesisReconcile(t *testing.T) {
	var got genesisReconcile
	client := newTestGenesis(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reconcile/tok/", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req genesisReconcile
		require.NoError(t, xml.Unmarshal(body, &req))
		got = req
		if req.UniqueID == "known" {
			io.WriteString(w, `<payment_response><status>declined</status><unique_id>known</unique_id></payment_response>`)
			return
		}
		io.WriteString(w, `<payment_response><status>error</status><message>Transaction not found</message></payment_response>`)
	})

	res := client.Reconcile(context.Background(), Query{UniqueID: "known", TransactionID: "ignored"})
	assert.True(t, res.OK)
	assert.Equal(t, "declined", res.Status)
	assert.Empty(t, got.TransactionID)

	res = client.Reconcile(context.Background(), Query{TransactionID: "acme-9"})
	assert.False(t, res.OK)
	assert.Equal(t, "acme-9", got.TransactionID)
	assert.Equal(t, "Transaction not found", res.Message)
}

func TestGenesisReconcile_NeverFails(t *testing.T) {
	client := NewGenesisClient(GenesisConfig{BaseURL: "http://127.0.0.1:1", TerminalToken: "tok"})

	res := client.Reconcile(context.Background(), Query{UniqueID: "x"})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.TechnicalMessage)
}
