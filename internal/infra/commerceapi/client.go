// Package commerceapi is the typed client for the commerce backend, the
// source of truth for catalog and purchase status. Each endpoint has a fixed
// response contract; no response-shape probing happens at runtime.
package commerceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nvoronin/tradeschool/backend/internal/infra/httpclient"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("commerce backend base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpclient.New(cfg.Timeout),
		logger:     logger,
	}, nil
}

type CreatePurchaseRequest struct {
	ProductID  string `json:"productId"`
	Method     string `json:"method"`
	PromoCode  string `json:"promoCode,omitempty"`
	PurchaseID string `json:"purchaseId,omitempty"`
	AttemptKey string `json:"attemptKey,omitempty"`
	Preview    bool   `json:"preview,omitempty"`
}

// PreviewResult is returned when CreatePurchaseRequest.Preview is set; the
// backend performs no side effect in that case.
type PreviewResult struct {
	Amount      float64 `json:"amount"`
	Discount    float64 `json:"discount"`
	BaseUsed    float64 `json:"baseUsed"`
	PricingPath string  `json:"pricingPath"`
}

type CreatePurchaseResult struct {
	PurchaseID  string  `json:"purchaseId"`
	Provider    string  `json:"provider"`
	Address     string  `json:"address,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	CheckoutURL string  `json:"checkoutUrl,omitempty"`
}

type ProofRequest struct {
	PurchaseID string `json:"purchaseId"`
	Method     string `json:"method"`
	TxHash     string `json:"txHash"`
}

type ProofResult struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
}

type PurchaseRecord struct {
	PurchaseID string  `json:"purchaseId"`
	ProductID  string  `json:"productId"`
	Provider   string  `json:"provider"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount"`
	Address    string  `json:"address,omitempty"`
	ExpiresAt  *int64  `json:"expiresAt,omitempty"`
}

type purchaseListResponse struct {
	Records []PurchaseRecord `json:"records"`
}

func (c *Client) PreviewPurchase(ctx context.Context, req CreatePurchaseRequest) (PreviewResult, error) {
	req.Preview = true
	var result PreviewResult
	if err := c.post(ctx, "/purchase/create", req, &result); err != nil {
		return PreviewResult{}, err
	}
	return result, nil
}

func (c *Client) CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (CreatePurchaseResult, error) {
	req.Preview = false
	var result CreatePurchaseResult
	if err := c.post(ctx, "/purchase/create", req, &result); err != nil {
		return CreatePurchaseResult{}, err
	}
	return result, nil
}

// ConfirmPurchase is the primary proof acceptance endpoint.
func (c *Client) ConfirmPurchase(ctx context.Context, req ProofRequest) (ProofResult, error) {
	var result ProofResult
	if err := c.post(ctx, "/purchase/confirm", req, &result); err != nil {
		return ProofResult{}, err
	}
	return result, nil
}

// SubmitProof is the compatibility fallback for backends that predate the
// confirm endpoint.
func (c *Client) SubmitProof(ctx context.Context, req ProofRequest) (ProofResult, error) {
	var result ProofResult
	if err := c.post(ctx, "/purchase/proof", req, &result); err != nil {
		return ProofResult{}, err
	}
	return result, nil
}

func (c *Client) ListPurchases(ctx context.Context) ([]PurchaseRecord, error) {
	var result purchaseListResponse
	if err := c.get(ctx, "/purchase/mine", &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// GetPurchase resolves a single purchase by id from the listing endpoint.
func (c *Client) GetPurchase(ctx context.Context, purchaseID string) (PurchaseRecord, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return PurchaseRecord{}, fmt.Errorf("purchase id is required")
	}

	records, err := c.ListPurchases(ctx)
	if err != nil {
		return PurchaseRecord{}, err
	}
	for _, record := range records {
		if record.PurchaseID == purchaseID {
			return record, nil
		}
	}
	return PurchaseRecord{}, &APIError{StatusCode: http.StatusNotFound, Code: "PURCHASE_NOT_FOUND", Message: "purchase not found"}
}

func (c *Client) post(ctx context.Context, path string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, target)
}

func (c *Client) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target any) error {
	if token, ok := TokenFromContext(req.Context()); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call commerce backend %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("commerce backend call",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err == nil && len(raw) > 0 {
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &body) == nil {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
