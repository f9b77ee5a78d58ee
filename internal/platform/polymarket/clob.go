package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/predictagent/internal/crypto"
	"github.com/alanyoungcy/predictagent/internal/domain"
	"github.com/alanyoungcy/predictagent/internal/platform/rest"
)

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It handles prices, API key derivation and order
// placement.
type ClobClient struct {
	baseURL string
	rest    *rest.Client
	signer  *crypto.Signer
	chainID int64
	now     func() time.Time

	mu    sync.Mutex
	creds crypto.APICreds
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// signer is the EIP-712 signer for auth messages and may be nil for
// read-only use. Empty creds are derived on the first order.
func NewClobClient(baseURL string, rc *rest.Client, signer *crypto.Signer, chainID int64, creds crypto.APICreds) *ClobClient {
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		rest:    rc,
		signer:  signer,
		chainID: chainID,
		now:     time.Now,
		creds:   creds,
	}
}

// GetPrice returns the BUY price of tokenID in basis points. Prices above 1
// are treated as percentages.
func (c *ClobClient) GetPrice(ctx context.Context, tokenID string) (int, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)
	params.Set("side", "BUY")

	var resp priceResponse
	if err := c.rest.Get(ctx, c.baseURL+"/price?"+params.Encode(), &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: price %s: %w", tokenID, err)
	}
	p := 0.5
	if resp.Price != nil {
		p = float64(*resp.Price)
	}
	if p > 1 {
		p /= 100
	}
	return toBps(p), nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with the L1 headers
// POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP and POLY_NONCE.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.APICreds, error) {
	if c.signer == nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrSigningFailed)
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	nonce := int64(0)

	sig, err := c.signer.SignClobAuth(c.chainID, timestamp, nonce)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	var creds crypto.APICreds
	err = c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/auth/derive-api-key",
		Headers: map[string]string{
			"POLY_ADDRESS":   c.signer.Address().Hex(),
			"POLY_SIGNATURE": sig,
			"POLY_TIMESTAMP": timestamp,
			"POLY_NONCE":     strconv.FormatInt(nonce, 10),
		},
	}, &creds)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}
	if creds.Empty() {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: empty credentials: %w", domain.ErrUnauthorized)
	}
	return creds, nil
}

// Creds returns the configured credentials, deriving them once if none
// were configured.
func (c *ClobClient) Creds(ctx context.Context) (crypto.APICreds, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.creds.Empty() {
		return c.creds, nil
	}
	creds, err := c.DeriveAPIKey(ctx)
	if err != nil {
		return crypto.APICreds{}, err
	}
	c.creds = creds
	return creds, nil
}

// PostOrder submits a signed order with L2 headers. Only failures that
// never reached the venue are retried.
func (c *ClobClient) PostOrder(ctx context.Context, creds crypto.APICreds, payload OrderPayload) (APIOrderResult, json.RawMessage, error) {
	const path = "/order"
	body, err := json.Marshal(payload)
	if err != nil {
		return APIOrderResult{}, nil, fmt.Errorf("polymarket/clob: marshal order: %w", err)
	}
	headers := creds.L2HeadersAt(c.signer.Address().Hex(), http.MethodPost, path, string(body), c.now().Unix())

	raw, err := c.rest.DoRaw(ctx, rest.Request{
		Method:   http.MethodPost,
		URL:      c.baseURL + path,
		Body:     json.RawMessage(body),
		Headers:  headers,
		NoReplay: true,
	})
	if err != nil {
		return APIOrderResult{}, nil, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return APIOrderResult{}, raw, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success && result.ErrorMsg != "" {
		return result, raw, fmt.Errorf("polymarket/clob: order rejected: %s", result.ErrorMsg)
	}
	return result, raw, nil
}
