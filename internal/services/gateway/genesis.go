package gateway

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGenesisTimeout = 30 * time.Second
	sddSaleType           = "sdd_sale"
)

type GenesisConfig struct {
	BaseURL       string // e.g. https://staging.gate.emerchantpay.net
	Username      string
	Password      string
	TerminalToken string
	Timeout       time.Duration
}

// GenesisClient speaks the Genesis XML API over HTTPS with basic auth.
type GenesisClient struct {
	cfg    GenesisConfig
	client *http.Client
}

func NewGenesisClient(cfg GenesisConfig) *GenesisClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGenesisTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GenesisClient{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type genesisSale struct {
	XMLName           xml.Name           `xml:"payment_transaction"`
	TransactionType   string             `xml:"transaction_type"`
	TransactionID     string             `xml:"transaction_id"`
	Usage             string             `xml:"usage,omitempty"`
	RemoteIP          string             `xml:"remote_ip,omitempty"`
	Amount            int64              `xml:"amount"`
	Currency          string             `xml:"currency"`
	IBAN              string             `xml:"iban"`
	BIC               string             `xml:"bic,omitempty"`
	CustomerEmail     string             `xml:"customer_email,omitempty"`
	CustomerPhone     string             `xml:"customer_phone,omitempty"`
	NotificationURL   string             `xml:"notification_url,omitempty"`
	ReturnSuccessURL  string             `xml:"return_success_url,omitempty"`
	ReturnFailureURL  string             `xml:"return_failure_url,omitempty"`
	BillingAddress    genesisAddress     `xml:"billing_address"`
	DynamicDescriptor *genesisDescriptor `xml:"dynamic_descriptor_params,omitempty"`
}

type genesisAddress struct {
	FirstName string `xml:"first_name"`
	LastName  string `xml:"last_name"`
	Address1  string `xml:"address1,omitempty"`
	ZipCode   string `xml:"zip_code,omitempty"`
	City      string `xml:"city,omitempty"`
	Country   string `xml:"country,omitempty"`
}

type genesisDescriptor struct {
	MerchantName string `xml:"merchant_name"`
}

type genesisReconcile struct {
	XMLName       xml.Name `xml:"reconcile"`
	UniqueID      string   `xml:"unique_id,omitempty"`
	TransactionID string   `xml:"transaction_id,omitempty"`
}

type genesisResponse struct {
	XMLName          xml.Name `xml:"payment_response"`
	TransactionType  string   `xml:"transaction_type"`
	Status           string   `xml:"status"`
	Code             string   `xml:"code"`
	UniqueID         string   `xml:"unique_id"`
	TransactionID    string   `xml:"transaction_id"`
	RedirectURL      string   `xml:"redirect_url"`
	Message          string   `xml:"message"`
	TechnicalMessage string   `xml:"technical_message"`
	Amount           int64    `xml:"amount"`
	Currency         string   `xml:"currency"`
	Timestamp        string   `xml:"timestamp"`
}

func (r genesisResponse) result() Result {
	status := strings.ToLower(strings.TrimSpace(r.Status))
	return Result{
		OK:               status != "" && !IsDeclined(status),
		Status:           status,
		UniqueID:         r.UniqueID,
		TransactionID:    r.TransactionID,
		RedirectURL:      r.RedirectURL,
		Message:          r.Message,
		TechnicalMessage: r.TechnicalMessage,
		Amount:           r.Amount,
		Currency:         r.Currency,
		Timestamp:        r.Timestamp,
	}
}

func saleFromRequest(req SddSaleRequest) genesisSale {
	s := genesisSale{
		TransactionType:  sddSaleType,
		TransactionID:    req.TransactionID,
		Usage:            req.Usage,
		RemoteIP:         req.RemoteIP,
		Amount:           req.MinorAmount(),
		Currency:         req.Currency,
		IBAN:             req.IBAN,
		BIC:              req.BIC,
		CustomerEmail:    req.Email,
		CustomerPhone:    req.Phone,
		NotificationURL:  req.NotificationURL,
		ReturnSuccessURL: req.ReturnSuccessURL,
		ReturnFailureURL: req.ReturnFailureURL,
		BillingAddress: genesisAddress{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Address1:  req.Address,
			ZipCode:   req.ZipCode,
			City:      req.City,
			Country:   req.Country,
		},
	}
	if req.DynamicDescriptor != "" {
		s.DynamicDescriptor = &genesisDescriptor{MerchantName: req.DynamicDescriptor}
	}
	return s
}

// Submit sends one sdd_sale. Declines come back as Result with OK=false;
// only transport and decoding failures are errors.
func (c *GenesisClient) Submit(ctx context.Context, req SddSaleRequest) (Result, error) {
	var resp genesisResponse
	if err := c.post(ctx, "/process/"+c.cfg.TerminalToken+"/", saleFromRequest(req), &resp); err != nil {
		return Result{}, fmt.Errorf("submit %s: %w", req.TransactionID, err)
	}
	return resp.result(), nil
}

// Reconcile asks the gateway for the current state of a transaction.
func (c *GenesisClient) Reconcile(ctx context.Context, q Query) Result {
	body := genesisReconcile{UniqueID: q.UniqueID}
	if body.UniqueID == "" {
		body.TransactionID = q.TransactionID
	}
	var resp genesisResponse
	if err := c.post(ctx, "/reconcile/"+c.cfg.TerminalToken+"/", body, &resp); err != nil {
		return Result{OK: false, Message: "reconcile request failed", TechnicalMessage: err.Error()}
	}
	// A found transaction is a successful lookup even when it was declined.
	res := resp.result()
	res.OK = res.UniqueID != ""
	return res
}

func (c *GenesisClient) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := xml.Marshal(in)
	if err != nil {
		return err
	}
	body := append([]byte(xml.Header), payload...)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	httpReq.Header.Set("Content-Type", "text/xml")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("gateway returned %s", resp.Status)
		}
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
