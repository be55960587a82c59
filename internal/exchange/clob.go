package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// usdcScale converts raw collateral units to dollars.
var usdcScale = decimal.NewFromInt(1_000_000)

// Credentials holds the L2 API credential set.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
	Address    string
}

// ClobClient talks to the CLOB REST API. It implements BookSource,
// OrderExecutor, AccountSource and ResolutionSource.
//
// In dry-run mode order placement is short-circuited into synthetic fills
// so the full lifecycle can run against live market data without spending.
type ClobClient struct {
	host   string
	creds  Credentials
	client *http.Client
	dryRun bool
	log    zerolog.Logger
}

func NewClobClient(host string, creds Credentials, dryRun bool, log zerolog.Logger) *ClobClient {
	return &ClobClient{
		host:   strings.TrimRight(host, "/"),
		creds:  creds,
		client: &http.Client{Timeout: 15 * time.Second},
		dryRun: dryRun,
		log:    log.With().Str("component", "clob").Logger(),
	}
}

// buildL2Headers signs timestamp+method+path+body with the base64url
// decoded API secret.
func (c *ClobClient) buildL2Headers(method, path string, body []byte) (http.Header, error) {
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)

	secret, err := base64.URLEncoding.DecodeString(c.creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("POLY_ADDRESS", c.creds.Address)
	h.Set("POLY_API_KEY", c.creds.APIKey)
	h.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_SIGNATURE", sig)
	return h, nil
}

func (c *ClobClient) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build clob request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	headers, err := c.buildL2Headers(method, strings.SplitN(path, "?", 2)[0], payload)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("clob %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("clob %s %s: status %d: %s", method, path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode clob response: %w", err)
	}
	return nil
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// Book fetches the current order book for a token.
func (c *ClobClient) Book(ctx context.Context, tokenID string) (OrderBook, error) {
	var resp bookResponse
	path := "/book?token_id=" + url.QueryEscape(tokenID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return OrderBook{}, err
	}

	book := OrderBook{TokenID: tokenID}
	book.Bids = make([]PriceLevel, 0, len(resp.Bids))
	for _, l := range resp.Bids {
		lvl, err := parseLevel(l)
		if err != nil {
			return OrderBook{}, err
		}
		book.Bids = append(book.Bids, lvl)
	}
	book.Asks = make([]PriceLevel, 0, len(resp.Asks))
	for _, l := range resp.Asks {
		lvl, err := parseLevel(l)
		if err != nil {
			return OrderBook{}, err
		}
		book.Asks = append(book.Asks, lvl)
	}
	return book, nil
}

func parseLevel(l bookLevel) (PriceLevel, error) {
	price, err := decimal.NewFromString(l.Price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("parse book price %q: %w", l.Price, err)
	}
	size, err := decimal.NewFromString(l.Size)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("parse book size %q: %w", l.Size, err)
	}
	return PriceLevel{Price: price.InexactFloat64(), Size: size.InexactFloat64()}, nil
}

type orderRequest struct {
	ClientID  string `json:"client_id"`
	TokenID   string `json:"token_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	OrderType string `json:"order_type"`
}

type orderResponse struct {
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Error   string `json:"errorMsg"`
}

func (c *ClobClient) placeOrder(ctx context.Context, tokenID, side string, price, shares float64) (OrderResult, error) {
	if c.dryRun {
		id := "dry-" + uuid.NewString()
		c.log.Info().
			Str("token", tokenID).Str("side", side).
			Float64("price", price).Float64("shares", shares).
			Str("order_id", id).
			Msg("dry run order")
		return OrderResult{OrderID: id, Status: "matched", Price: price, Size: shares}, nil
	}

	req := orderRequest{
		ClientID:  uuid.NewString(),
		TokenID:   tokenID,
		Side:      side,
		Price:     decimal.NewFromFloat(price).StringFixed(3),
		Size:      decimal.NewFromFloat(shares).StringFixed(2),
		OrderType: "GTC",
	}
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/order", req, &resp); err != nil {
		return OrderResult{}, err
	}
	if !resp.Success {
		return OrderResult{}, fmt.Errorf("order rejected: %s", resp.Error)
	}
	return OrderResult{OrderID: resp.OrderID, Status: resp.Status, Price: price, Size: shares}, nil
}

// PlaceEntry buys shares of an outcome token at the given limit price.
func (c *ClobClient) PlaceEntry(ctx context.Context, tokenID string, price, shares float64) (OrderResult, error) {
	return c.placeOrder(ctx, tokenID, "BUY", price, shares)
}

// PlaceExit sells shares of an outcome token at the given limit price.
func (c *ClobClient) PlaceExit(ctx context.Context, tokenID string, price, shares float64) (OrderResult, error) {
	return c.placeOrder(ctx, tokenID, "SELL", price, shares)
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance returns the collateral (USDC) balance in dollars.
func (c *ClobClient) Balance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	path := "/balance-allowance?asset_type=COLLATERAL"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	raw, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", resp.Balance, err)
	}
	return raw.Div(usdcScale).InexactFloat64(), nil
}

// TokenBalance returns the share count held for an outcome token.
func (c *ClobClient) TokenBalance(ctx context.Context, tokenID string) (float64, error) {
	var resp balanceResponse
	path := "/balance-allowance?asset_type=CONDITIONAL&token_id=" + url.QueryEscape(tokenID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	raw, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", resp.Balance, err)
	}
	return raw.Div(usdcScale).InexactFloat64(), nil
}

type marketResponse struct {
	Closed bool `json:"closed"`
	Tokens []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
		Winner  bool   `json:"winner"`
	} `json:"tokens"`
}

// Resolution reports the settlement outcome of a market, or
// ResolutionPending while the market is still open or unreported.
func (c *ClobClient) Resolution(ctx context.Context, conditionID string) (Resolution, error) {
	var resp marketResponse
	path := "/markets/" + url.PathEscape(conditionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return ResolutionPending, err
	}
	if !resp.Closed {
		return ResolutionPending, nil
	}
	for _, tok := range resp.Tokens {
		if !tok.Winner {
			continue
		}
		switch strings.ToLower(tok.Outcome) {
		case "up", "yes":
			return ResolvedUp, nil
		case "down", "no":
			return ResolvedDown, nil
		}
	}
	return ResolutionPending, nil
}
