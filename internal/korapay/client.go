// Package korapay is a stateless HTTP client for the Korapay charges API:
// initialize a hosted checkout, verify a charge by reference, and validate
// webhook signatures.
package korapay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/leadconf/registration-service/internal/config"
	"github.com/leadconf/registration-service/internal/metrics"
)

// ProviderError carries the upstream status code and message so callers can
// surface diagnostics without parsing error strings.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("korapay request failed [%d]: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.KorapayBaseURL,
		secretKey:  cfg.KorapaySecretKey,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

// InitiateRequest is the payload for creating a hosted checkout session.
type InitiateRequest struct {
	Amount          int64
	Currency        string
	Reference       string
	CustomerName    string
	CustomerEmail   string
	RedirectURL     string
	NotificationURL string
	Metadata        map[string]any
}

// InitiateResult is the checkout session returned by the provider.
type InitiateResult struct {
	CheckoutURL string `json:"checkoutUrl"`
	Reference   string `json:"reference"`
}

// VerifyResult is the provider's live view of one charge. Raw keeps the
// provider's data object verbatim for audit storage.
type VerifyResult struct {
	Paid      bool            `json:"paid"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Raw       json.RawMessage `json:"-"`
}

type initResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
		Reference   string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verifyData struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// Initialize creates a checkout session for the given reference and returns
// the hosted checkout URL the payer must be redirected to.
func (c *Client) Initialize(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"customer": map[string]string{
			"name":  req.CustomerName,
			"email": req.CustomerEmail,
		},
		"redirect_url":     req.RedirectURL,
		"notification_url": req.NotificationURL,
		"metadata":         req.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal initialize payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("initialize", "error").Inc()
		return nil, fmt.Errorf("korapay initialize: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("korapay initialize: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderRequests.WithLabelValues("initialize", "error").Inc()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result initResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("korapay initialize: decode response: %w", err)
	}
	if !result.Status || result.Data.CheckoutURL == "" {
		metrics.ProviderRequests.WithLabelValues("initialize", "error").Inc()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: result.Message}
	}

	metrics.ProviderRequests.WithLabelValues("initialize", "ok").Inc()
	c.logger.Info("Checkout session created",
		zap.String("reference", result.Data.Reference),
		zap.Int64("amount", req.Amount),
	)

	return &InitiateResult{
		CheckoutURL: result.Data.CheckoutURL,
		Reference:   result.Data.Reference,
	}, nil
}

// Verify fetches the provider's current state for a reference. It is a pure
// remote read and may be called any number of times; it is the only input
// trusted to decide that money actually moved.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	endpoint := c.baseURL + "/charges/" + url.PathEscape(reference)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("verify", "error").Inc()
		return nil, fmt.Errorf("korapay verify: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("korapay verify: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderRequests.WithLabelValues("verify", "error").Inc()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result verifyResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("korapay verify: decode response: %w", err)
	}
	if !result.Status {
		metrics.ProviderRequests.WithLabelValues("verify", "error").Inc()
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: result.Message}
	}

	var data verifyData
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, fmt.Errorf("korapay verify: decode data: %w", err)
	}

	metrics.ProviderRequests.WithLabelValues("verify", "ok").Inc()
	return &VerifyResult{
		Paid:      data.Status == "success",
		Status:    data.Status,
		Reference: data.Reference,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Raw:       result.Data,
	}, nil
}

// ValidateSignature reports whether signature is the hex HMAC-SHA256 digest
// of the webhook's data object, keyed with the secret key. Korapay signs the
// data object only, not the full event envelope.
func (c *Client) ValidateSignature(data []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write(data)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
}
