// Package oneinch is a minimal HTTP client over the 1inch Fusion+ order
// book, treated strictly as an external HTTP order source. It fetches
// open cross-chain orders and applies a single-threshold profitability
// filter; order selection beyond that (Dutch-auction curve evaluation
// and the like) is left to the operator.
package oneinch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/klingon-exchange/fusion-resolver/internal/orcherr"
	"github.com/klingon-exchange/fusion-resolver/pkg/logging"
)

// Order is the subset of a 1inch Fusion+ cross-chain order this
// orchestrator needs to decide whether to take it.
type Order struct {
	OrderHash      string `json:"orderHash"`
	MakerAsset     string `json:"makerAsset"`
	TakerAsset     string `json:"takerAsset"`
	MakingAmount   string `json:"makingAmount"`
	TakingAmount   string `json:"takingAmount"`
	SrcChainID     uint64 `json:"srcChainId"`
	DstChainID     uint64 `json:"dstChainId"`
	Maker          string `json:"maker"`
	SecretHashHint string `json:"secretHashHint,omitempty"`
}

// ordersResponse is the wire shape of a GET .../orders/active response.
type ordersResponse struct {
	Items []Order `json:"items"`
	Meta  struct {
		Total int `json:"total"`
	} `json:"meta"`
}

// Client is a stateless HTTP client over the 1inch Fusion+ order-book API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logging.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New returns a Client ready to fetch orders.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.GetDefault().Component("oneinch"),
	}
}

// FetchOrders retrieves the open orders for one (srcChainID, dstChainID)
// pair. A non-2xx response or malformed body classifies as
// ExternalCallError; a network-level failure classifies as
// NetworkError, matching the EVM adapter's error taxonomy so callers treat
// every downstream dependency the same way.
func (c *Client) FetchOrders(ctx context.Context, srcChainID, dstChainID uint64) ([]Order, error) {
	u, err := url.Parse(c.baseURL + "/fusion-plus/orders/v1.0/order/active")
	if err != nil {
		return nil, orcherr.Wrap(orcherr.InvalidInput, "invalid 1inch base URL", err)
	}
	q := u.Query()
	q.Set("srcChain", fmt.Sprintf("%d", srcChainID))
	q.Set("dstChain", fmt.Sprintf("%d", dstChainID))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ProcessingError, "build 1inch request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NetworkError, "1inch order fetch failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.NetworkError, "read 1inch response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, orcherr.New(orcherr.ExternalCallError, fmt.Sprintf("1inch order fetch returned status %d", resp.StatusCode))
	}

	var parsed ordersResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, orcherr.Wrap(orcherr.ExternalCallError, "parse 1inch response", err)
	}
	return parsed.Items, nil
}

// ProfitabilityFilter passes an order if (takingAmount - makingAmount)
// in wei is at least MinProfitWei. Deliberately a flat threshold, not a
// Dutch-auction curve evaluation; auction strategy is not part of the
// atomic-swap core.
type ProfitabilityFilter struct {
	MinProfitWei *big.Int
}

// Passes reports whether order clears the configured minimum profit.
// Malformed amounts fail closed (the order is rejected, not defaulted to
// profitable).
func (f ProfitabilityFilter) Passes(o Order) bool {
	making, ok := new(big.Int).SetString(o.MakingAmount, 10)
	if !ok {
		return false
	}
	taking, ok := new(big.Int).SetString(o.TakingAmount, 10)
	if !ok {
		return false
	}
	profit := new(big.Int).Sub(taking, making)
	min := f.MinProfitWei
	if min == nil {
		min = big.NewInt(0)
	}
	return profit.Cmp(min) >= 0
}

// FilterProfitable returns the subset of orders that clear f.
func (f ProfitabilityFilter) FilterProfitable(orders []Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if f.Passes(o) {
			out = append(out, o)
		}
	}
	return out
}
