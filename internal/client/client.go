// Package client implements the REST and WebSocket clients for the auction
// daemon's API.
//
// The REST client (Client) wraps every route the daemon serves:
//   - Status / Auctions / Auction:  GET  /api/status, /api/auctions[/{token}]
//   - Start / Bid / End:            POST /api/auctions/{token}/{start,bid,end}
//   - Skim / Unwind / Staked:       POST /api/skim, POST /api/unwind, GET /api/staked
//   - History:                      GET  /api/history/{token}
//   - UpdateReceiver / Whitelist:   POST /api/admin/{receiver,whitelist}
//
// Reads are retried on 5xx; writes are not, since a bid that reached the
// engine must not be replayed. With a Signer set, every write carries
// EIP-712 request signature headers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"maker-auction/internal/auth"
	"maker-auction/pkg/types"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Code    string // e.g. "BidFinished"
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// Client is the auction daemon REST client.
type Client struct {
	http   *resty.Client
	signer *auth.Signer // nil sends unsigned requests
	logger *slog.Logger
}

// New creates a client for the daemon at baseURL (e.g. http://localhost:8545).
func New(baseURL string, signer *auth.Signer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		signer: signer,
		logger: logger.With("component", "client"),
	}
}

// Caller returns the signer's address, or the zero address when unsigned.
func (c *Client) Caller() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *Client) Status(ctx context.Context) (*types.StatusView, error) {
	var out types.StatusView
	if err := c.get(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Auctions(ctx context.Context) ([]types.AuctionView, error) {
	var out []types.AuctionView
	if err := c.get(ctx, "/api/auctions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Auction(ctx context.Context, tok common.Address) (*types.AuctionView, error) {
	var out types.AuctionView
	if err := c.get(ctx, "/api/auctions/"+tok.Hex(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start opens an auction for tok.
func (c *Client) Start(ctx context.Context, tok common.Address, req types.BidRequest) (*types.AuctionView, error) {
	var out types.AuctionView
	if err := c.post(ctx, "/api/auctions/"+tok.Hex()+"/start", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Bid outbids the current leader on tok.
func (c *Client) Bid(ctx context.Context, tok common.Address, req types.BidRequest) (*types.AuctionView, error) {
	var out types.AuctionView
	if err := c.post(ctx, "/api/auctions/"+tok.Hex()+"/bid", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) End(ctx context.Context, tok common.Address) (*types.AuctionView, error) {
	var out types.AuctionView
	if err := c.post(ctx, "/api/auctions/"+tok.Hex()+"/end", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Skim(ctx context.Context) (*types.SkimResult, error) {
	var out types.SkimResult
	if err := c.post(ctx, "/api/skim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Unwind(ctx context.Context, tokenA, tokenB common.Address) (*types.UnwindResult, error) {
	var out types.UnwindResult
	req := types.UnwindRequest{TokenA: tokenA.Hex(), TokenB: tokenB.Hex()}
	if err := c.post(ctx, "/api/unwind", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Staked(ctx context.Context) (*types.StakedView, error) {
	var out types.StakedView
	if err := c.get(ctx, "/api/staked", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns journaled events for tok; limit <= 0 returns all.
func (c *Client) History(ctx context.Context, tok common.Address, limit int) ([]types.EventView, error) {
	var query map[string]string
	if limit > 0 {
		query = map[string]string{"limit": strconv.Itoa(limit)}
	}
	var out []types.EventView
	if err := c.get(ctx, "/api/history/"+tok.Hex(), query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateReceiver(ctx context.Context, req types.ReceiverRequest) (*types.StatusView, error) {
	var out types.StatusView
	if err := c.post(ctx, "/api/admin/receiver", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateWhitelist(ctx context.Context, req types.WhitelistRequest) (*types.StatusView, error) {
	var out types.StatusView
	if err := c.post(ctx, "/api/admin/whitelist", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return decodeResponse(resp, out)
}

// post marshals body once so the signature covers exactly the bytes sent.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
	}

	req := c.http.R().SetContext(ctx)
	if data != nil {
		req.SetBody(data)
	}
	if c.signer != nil {
		hdrs, err := c.signer.Headers(http.MethodPost, path, data, time.Now())
		if err != nil {
			return fmt.Errorf("sign %s: %w", path, err)
		}
		req.SetHeaders(hdrs)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	c.logger.Debug("request done", "path", path, "status", resp.StatusCode())
	return decodeResponse(resp, out)
}

func decodeResponse(resp *resty.Response, out any) error {
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		var body types.ErrorResponse
		if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
			apiErr.Code, apiErr.Message = body.Error, body.Message
		} else {
			apiErr.Code, apiErr.Message = http.StatusText(resp.StatusCode()), resp.String()
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
